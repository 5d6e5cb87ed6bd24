package main

import (
	"fmt"
	"os"

	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/engine"
	"github.com/BadgerOps/epggen/internal/status"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type regionFlags struct {
	region int
	tz     int
}

func newMatchCmd() *cobra.Command {
	var (
		interactive bool
		clearAll    bool
		preferred   string
		offline     bool
		regions     = map[string]*regionFlags{}
	)

	cmd := &cobra.Command{
		Use:   "match [FILE]",
		Short: "Map playlist channels to provider channels",
		Long: `Match reads channel names from an M3U playlist (or, without FILE, the
names already known) and binds each to a channel of the provider catalogs.
Names that normalize to one catalog channel are bound automatically. In
interactive mode the remaining close candidates are offered for selection.`,
		Example: `  epggen match playlist.m3u
  epggen match -i -p yandex playlist.m3u
  epggen match --mailru-region 71 --clear
  epggen match -n`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MatchOptions{
				Interactive: interactive,
				Clear:       clearAll,
				Preferred:   preferred,
				Offline:     offline,
				Regions:     make(map[string]status.RegionTZ),
			}
			if len(args) == 1 {
				opts.PlaylistPath = args[0]
			}
			for name, rf := range regions {
				if rf.region != status.Unset || rf.tz != status.Unset {
					opts.Regions[name] = status.RegionTZ{Region: rf.region, TZ: rf.tz}
				}
			}
			if interactive && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				logger.Warn("interactive mode without a terminal on stdin; answers are read as piped")
			}

			report, err := globalEngine.Match(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			logger.Info("match finished",
				"matched", report.Matched,
				"unmatched", len(report.Unmatched),
				"saved", report.Saved)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "choose among close candidates for unmatched channels")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "drop existing mappings before matching")
	cmd.Flags().StringVarP(&preferred, "preferred", "p", "", "provider that wins ties between equal names")
	cmd.Flags().BoolVarP(&offline, "offline", "n", false, "use cached catalogs only")
	for _, name := range config.KnownProviders() {
		rf := &regionFlags{}
		regions[name] = rf
		cmd.Flags().IntVar(&rf.region, name+"-region", status.Unset, fmt.Sprintf("%s region id", name))
		cmd.Flags().IntVar(&rf.tz, name+"-tz", status.Unset, fmt.Sprintf("%s timezone offset in minutes", name))
	}

	return cmd
}
