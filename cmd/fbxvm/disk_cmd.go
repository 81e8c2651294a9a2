package main

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/events"
	"github.com/fbxtools/fbxvm/internal/freebox"
	"github.com/fbxtools/fbxvm/internal/vm"
)

var (
	flagDiskType   string
	flagDiskShrink bool
)

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Manage disk images",
}

var diskCreateCmd = &cobra.Command{
	Use:   "create <path> <size>",
	Short: "Create a new disk image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := vm.ParseSize(args[1])
		if err != nil {
			return err
		}
		return diskCreate(cmd.Context(), encodePath(args[0]), size, flagDiskType)
	},
}

var diskResizeCmd = &cobra.Command{
	Use:   "resize <path> <size>",
	Short: "Resize a disk image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := vm.ParseSize(args[1])
		if err != nil {
			return err
		}
		return diskResize(cmd.Context(), encodePath(args[0]), size, flagDiskShrink)
	},
}

var diskInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Get information about a disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := client.DiskInfo(cmd.Context(), encodePath(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("File: %s\n", args[0])
		fmt.Printf("Virtual size: %s\tAllocated: %s\ttype: %s\n",
			humanize.IBytes(uint64(info.VirtualSize)), humanize.IBytes(uint64(info.ActualSize)), info.Type)
		return nil
	},
}

var diskDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pathB64 := encodePath(args[0])
		if _, err := client.DiskInfo(ctx, pathB64); err != nil {
			return fmt.Errorf("%s is not a VM disk image: %w", args[0], err)
		}
		return client.RemoveFiles(ctx, []string{pathB64})
	},
}

// diskCreate runs the asynchronous creation through the event correlator so
// the command returns only once the disk actually exists.
func diskCreate(ctx context.Context, pathB64 string, size int64, diskType string) error {
	correlator := events.New(client, client, logger)
	return correlator.Run(ctx, func(ctx context.Context) (freebox.DiskTask, error) {
		return client.DiskCreate(ctx, freebox.DiskCreateRequest{
			DiskPath: pathB64,
			Size:     size,
			DiskType: diskType,
		})
	})
}

// diskResize runs the asynchronous resize through the event correlator.
func diskResize(ctx context.Context, pathB64 string, size int64, shrinkAllow bool) error {
	correlator := events.New(client, client, logger)
	return correlator.Run(ctx, func(ctx context.Context) (freebox.DiskTask, error) {
		return client.DiskResize(ctx, freebox.DiskResizeRequest{
			DiskPath:    pathB64,
			Size:        size,
			ShrinkAllow: shrinkAllow,
		})
	})
}

func encodePath(p string) string {
	return base64.StdEncoding.EncodeToString([]byte(p))
}

func init() {
	diskCreateCmd.Flags().StringVarP(&flagDiskType, "type", "t", "qcow2", "disk type")
	diskResizeCmd.Flags().BoolVarP(&flagDiskShrink, "shrink-allow", "a", false,
		"allow shrinking the disk (can be destructive)")
	diskCmd.AddCommand(diskCreateCmd, diskResizeCmd, diskInfoCmd, diskDeleteCmd)
	rootCmd.AddCommand(diskCmd)
}
