package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseID(s, what string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", what, s)
	}
	return id, nil
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set ID PROVIDER PROVIDER_ID",
		Short: "Map a playlist channel by hand",
		Long: `Set binds the playlist channel with the given ID (as shown by list) to
a channel of the provider catalog.`,
		Example: `  epggen set 12 mailru 1063`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "playlist id")
			if err != nil {
				return err
			}
			channelID, err := parseID(args[2], "provider channel id")
			if err != nil {
				return err
			}
			if err := globalEngine.Set(id, args[1], channelID); err != nil {
				return err
			}
			fmt.Printf("Channel %d mapped to %s:%d\n", id, args[1], channelID)
			return nil
		},
	}
}

func newUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unset ID",
		Short:   "Remove the mapping of a playlist channel",
		Example: `  epggen unset 12`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "playlist id")
			if err != nil {
				return err
			}
			if err := globalEngine.Unset(id); err != nil {
				return err
			}
			fmt.Printf("Channel %d unmapped\n", id)
			return nil
		},
	}
}
