package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup DAYS",
		Short: "Remove cached schedules older than DAYS",
		Long: `Cleanup deletes cached schedule files dated more than DAYS days before
today, along with directories left empty and recorded fetch failures from
the same period.`,
		Example: `  epggen cleanup 3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := parseID(args[0], "number of days")
			if err != nil {
				return err
			}
			report, err := globalEngine.Cleanup(days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d files and %d directories\n", report.Files, report.Directories)
			return nil
		},
	}
}
