// Command torrentctl is a thin client for a running peerd's control
// HTTP facade.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	var controlAddr string

	root := &cobra.Command{
		Use:   "torrentctl",
		Short: "Control a running torrentd peer daemon",
	}
	root.PersistentFlags().StringVar(&controlAddr, "control-addr", "http://localhost:7000", "peer control facade address")

	root.AddCommand(
		newSeedCmd(&controlAddr),
		newLeechCmd(&controlAddr),
		newStatusCmd(&controlAddr),
		newTorrentsCmd(&controlAddr),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSeedCmd(controlAddr *string) *cobra.Command {
	var (
		trackers    []string
		pieceLength int64
		name        string
		description string
		public      bool
	)

	cmd := &cobra.Command{
		Use:   "seed <input-path>",
		Short: "Seed a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]interface{}{
				"input_path":   args[0],
				"trackers":     trackers,
				"piece_length": pieceLength,
				"name":         name,
				"description":  description,
				"public":       public,
			})
			if err != nil {
				return err
			}
			return postJSON(*controlAddr+"/seed", body)
		},
	}
	cmd.Flags().StringSliceVar(&trackers, "tracker", nil, "additional tracker URLs")
	cmd.Flags().Int64Var(&pieceLength, "piece-length", 0, "piece length in bytes")
	cmd.Flags().StringVar(&name, "name", "", "display name for tracker upload")
	cmd.Flags().StringVar(&description, "description", "", "description for tracker upload")
	cmd.Flags().BoolVar(&public, "public", true, "upload the torrent file to the tracker")
	return cmd
}

func newLeechCmd(controlAddr *string) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "leech <torrent-path>",
		Short: "Download a torrent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"torrent_filepath": args[0],
				"output_dir":       outputDir,
			})
			if err != nil {
				return err
			}
			return postJSON(*controlAddr+"/leech", body)
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to write downloaded content into")
	return cmd
}

func newStatusCmd(controlAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show seeding and leeching status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(*controlAddr + "/status")
		},
	}
}

func newTorrentsCmd(controlAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torrents [info-hash]",
		Short: "List torrents known to the tracker, or show one by info-hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/torrents"
			if len(args) == 1 {
				path += "/" + args[0]
			}
			return getAndPrint(*controlAddr + path)
		},
	}
	return cmd
}

func postJSON(url string, body []byte) error {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "POST %s", url)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return errors.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	return nil
}
