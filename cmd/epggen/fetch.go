package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

// parseDate reads a YYYY-MM-DD reference date in local time. An empty value
// is today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func newFetchCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download schedules into the cache",
		Long: `Fetch removes cached schedules older than the configured age and
downloads the week around the reference date for every mapped channel.`,
		Example: `  epggen fetch
  epggen fetch -d 2024-02-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseDate(date)
			if err != nil {
				return err
			}
			report, err := globalEngine.Fetch(commandContext(cmd), ref)
			if err != nil {
				return err
			}
			fmt.Printf("Fetched %d programmes for %d channels\n", report.Programmes, report.Channels)
			return nil
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "", "reference date (YYYY-MM-DD, default today)")
	return cmd
}
