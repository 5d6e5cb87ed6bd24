package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCmd() *cobra.Command {
	var (
		limit    int
		command  string
		failures bool
		prov     string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs and fetch failures",
		Long: `History lists the most recent command runs recorded in the history
database. With --failures it lists the cache entries that could not be
downloaded after all retries instead.`,
		Example: `  epggen history
  epggen history --command build --limit 5
  epggen history --failures --provider yandex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failures {
				return historyFailuresRun(prov, limit)
			}
			return historyRunsRun(command, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of rows")
	cmd.Flags().StringVar(&command, "command", "", "only runs of this command")
	cmd.Flags().BoolVar(&failures, "failures", false, "list fetch failures instead of runs")
	cmd.Flags().StringVar(&prov, "provider", "", "only failures of this provider")
	return cmd
}

func historyRunsRun(command string, limit int) error {
	if globalStore == nil {
		return fmt.Errorf("run history is not available")
	}
	runs, err := globalStore.ListRuns(command, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := ""
		if !r.EndTime.IsZero() {
			duration = r.EndTime.Sub(r.StartTime).Round(time.Second).String()
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Command,
			r.StartTime.Local().Format(historyTimeLayout),
			duration,
			r.Status,
			strconv.Itoa(r.Matched),
			strconv.Itoa(r.Unmatched),
			strconv.Itoa(r.Programmes),
			r.ErrorMessage,
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Command", "Started", "Duration", "Status", "Matched", "Unmatched", "Programmes", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func historyFailuresRun(prov string, limit int) error {
	if globalStore == nil {
		return fmt.Errorf("run history is not available")
	}
	list, err := globalStore.ListFetchFailures(prov, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No fetch failures recorded.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, f := range list {
		rows = append(rows, []string{
			f.Provider,
			f.CacheKey,
			strconv.Itoa(f.FailureCount),
			f.LastFailure.Local().Format(historyTimeLayout),
			f.Error,
		})
	}
	fmt.Println(renderTable(
		[]string{"Provider", "Key", "Failures", "Last Failure", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}
