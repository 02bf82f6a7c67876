// Command trackerd runs the announce/metadata tracker service.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/arlowe/torrentd/config"
	"github.com/arlowe/torrentd/tracker"
)

func main() {
	var (
		addr             string
		stateDir         string
		announceInterval int
		verbose          bool
	)

	root := &cobra.Command{
		Use:   "trackerd",
		Short: "Run the torrentd tracker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadTracker(addr, stateDir)
			if err != nil {
				return err
			}
			if announceInterval != 0 {
				cfg.AnnounceInterval = announceInterval
			}

			tracker.SetVerbose(verbose)

			store, err := tracker.NewStore(cfg.StateDir)
			if err != nil {
				return err
			}
			srv := tracker.NewServer(store, cfg.AnnounceInterval)

			fmt.Printf("trackerd listening on %s (state dir %s, announce interval %ds)\n",
				cfg.Addr, cfg.StateDir, cfg.AnnounceInterval)
			return http.ListenAndServe(cfg.Addr, srv)
		},
	}

	root.Flags().StringVar(&addr, "addr", "", "address to listen on (default "+config.DefaultTrackerAddr+")")
	root.Flags().StringVar(&stateDir, "state-dir", "", "directory for peer/torrent state and uploaded blobs")
	root.Flags().IntVar(&announceInterval, "announce-interval", 0, "seconds advertised to clients between re-announces")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
