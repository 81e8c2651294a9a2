package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/catalog"
	"github.com/fbxtools/fbxvm/internal/download"
	"github.com/fbxtools/fbxvm/internal/freebox"
)

var (
	flagDLBackground bool
	flagDLURL        string
	flagDLHash       string
	flagDLFilename   string
	flagDLDirectory  string
)

var downloadCmd = &cobra.Command{
	Use:   "download [short-id]",
	Short: "Download a disk or CDROM image onto the Freebox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req := freebox.DownloadRequest{
			Filename: flagDLFilename,
		}
		if flagDLDirectory != "" {
			req.DownloadDir = base64.StdEncoding.EncodeToString([]byte(flagDLDirectory))
		}

		switch {
		case len(args) == 1:
			entries, err := catalog.List(ctx, client)
			if err != nil {
				return err
			}
			entry, ok := catalog.Find(entries, args[0])
			if !ok {
				return fmt.Errorf("short-id %q not found, see 'fbxvm os-list'", args[0])
			}
			req.DownloadURL = entry.URL
			req.Hash = entry.Hash
		case flagDLURL != "":
			req.DownloadURL = flagDLURL
			req.Hash = flagDLHash
		default:
			return fmt.Errorf("either a short-id or --url is required")
		}

		path, err := fetch(ctx, req, flagDLBackground)
		if err != nil {
			return err
		}
		if path != "" {
			fmt.Printf("%s has been downloaded\n", path)
		}
		return nil
	},
}

// fetch submits a download and, unless background is set, follows it to
// completion and returns the resulting file path.
func fetch(ctx context.Context, req freebox.DownloadRequest, background bool) (string, error) {
	taskID, err := client.AddDownload(ctx, req)
	if err != nil {
		return "", err
	}
	if background {
		fmt.Fprintln(os.Stderr, "Download started on the Freebox, see the 'Downloads' utility")
		return "", nil
	}
	poller := download.NewPoller(client, os.Stderr, logger)
	return poller.Wait(ctx, taskID)
}

func init() {
	downloadCmd.Flags().BoolVarP(&flagDLBackground, "background", "b", false, "download in the background")
	downloadCmd.Flags().StringVarP(&flagDLURL, "url", "u", "", "download this URL instead of a short-id")
	downloadCmd.Flags().StringVarP(&flagDLHash, "hash", "a", "", "checksum URL or digest for --url")
	downloadCmd.Flags().StringVarP(&flagDLFilename, "filename", "f", "", "store the file under this name")
	downloadCmd.Flags().StringVarP(&flagDLDirectory, "directory", "d", "", "Freebox directory to store the file")
	rootCmd.AddCommand(downloadCmd)
}
