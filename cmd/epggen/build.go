package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var (
		date    string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Write the XMLTV guide",
		Long: `Build collects the programmes of every mapped channel and writes them
as an XMLTV document. A FILE ending in .gz is gzip-compressed. With --offline
only cached schedules are used.`,
		Example: `  epggen build guide.xml
  epggen build -n guide.xml.gz
  epggen build -d 2024-02-01 guide.xml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseDate(date)
			if err != nil {
				return err
			}
			report, err := globalEngine.Build(commandContext(cmd), args[0], offline, ref)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d programmes for %d channels to %s\n", report.Programmes, report.Channels, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "", "reference date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVarP(&offline, "offline", "n", false, "use cached schedules only")
	return cmd
}
