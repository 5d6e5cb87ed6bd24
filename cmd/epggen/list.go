package main

import (
	"fmt"

	"github.com/BadgerOps/epggen/internal/engine"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var matched, unmatched bool

	cmd := &cobra.Command{
		Use:   "list [PATTERN]",
		Short: "Show channel mappings",
		Long: `List prints the playlist channels with the provider channels they are
mapped to. Without filters the unmapped provider channels are listed as well.
PATTERN keeps rows whose names fuzzily contain it.`,
		Example: `  epggen list
  epggen list -u
  epggen list -m discovery`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := engine.ListAll
			switch {
			case matched:
				filter = engine.ListMatched
			case unmatched:
				filter = engine.ListUnmatched
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return listRun(pattern, filter)
		},
	}

	cmd.Flags().BoolVarP(&matched, "matched", "m", false, "only mapped playlist channels")
	cmd.Flags().BoolVarP(&unmatched, "unmatched", "u", false, "only unmapped playlist channels")
	cmd.MarkFlagsMutuallyExclusive("matched", "unmatched")
	return cmd
}

func listRun(pattern string, filter engine.ListFilter) error {
	rows, err := globalEngine.List(pattern, filter)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No channels.")
		return nil
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.PlaylistID, r.Name, r.Provider, r.ProviderID, r.ProviderName})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Name", "Provider", "Provider ID", "Provider Name"},
		cells,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}
