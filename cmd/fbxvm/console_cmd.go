package main

import (
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console <vm>",
	Short: "Open the VM serial console",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}
		return runConsole(ctx, selected)
	},
}

var vncProxyCmd = &cobra.Command{
	Use:   "vnc-proxy <vm>",
	Short: "Expose the VM VNC display on a local TCP port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}
		if flagConsole {
			return runConsoleAndProxy(ctx, selected)
		}
		return runProxy(ctx, selected)
	},
}

func init() {
	vncProxyCmd.Flags().BoolVarP(&flagConsole, "console", "c", false, "also attach the VM console")
	addListenFlags(vncProxyCmd)
	addAttachFlags(poweronCmd)
	rootCmd.AddCommand(consoleCmd, vncProxyCmd)
}
