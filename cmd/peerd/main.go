// Command peerd runs a peer daemon: a piece-exchange engine fronted by
// a local control HTTP facade.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlowe/torrentd/config"
	"github.com/arlowe/torrentd/control"
	"github.com/arlowe/torrentd/peer"
)

const shutdownGrace = 30 * time.Second

func main() {
	var (
		port        int
		controlAddr string
		trackerURL  string
		downloadDir string
		pieceLength int64
		verbose     bool
	)

	root := &cobra.Command{
		Use:   "peerd",
		Short: "Run the torrentd peer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPeer(port, controlAddr, trackerURL, downloadDir, pieceLength)
			if err != nil {
				return err
			}

			peer.SetVerbose(verbose)
			control.SetVerbose(verbose)

			p, err := peer.New(cfg.Port, cfg.TrackerURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				if err := p.ListenAndServe(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "peer-wire listener stopped: %v\n", err)
				}
			}()

			ctrl := control.NewServer(p, cfg.TrackerURL)
			srv := &http.Server{Addr: cfg.ControlAddr, Handler: ctrl}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "control server stopped: %v\n", err)
				}
			}()

			fmt.Printf("peerd listening on peer-wire port %d, control facade on %s, tracker %s\n",
				cfg.Port, cfg.ControlAddr, cfg.TrackerURL)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			fmt.Println("shutting down, sending stopped announces...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			p.Shutdown(shutdownCtx)
			cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	root.Flags().IntVar(&port, "port", 0, "peer-wire TCP port (default "+strconv.Itoa(config.DefaultPeerPort)+")")
	root.Flags().StringVar(&controlAddr, "control-addr", "", "control HTTP facade address (default "+config.DefaultControlAddr+")")
	root.Flags().StringVar(&trackerURL, "tracker-url", "", "tracker base URL (required)")
	root.Flags().StringVar(&downloadDir, "download-dir", "", "download directory kept in the peer config (default "+config.DefaultDownloadDir+"); not used: leech requests without output_dir write to the current directory")
	root.Flags().Int64Var(&pieceLength, "piece-length", 0, "piece length kept in the peer config; not used: seed requests without piece_length use 262144 bytes")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
