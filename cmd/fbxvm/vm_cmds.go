package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/freebox"
	"github.com/fbxtools/fbxvm/internal/vm"
)

var (
	flagLong      bool
	flagUSBPorts  bool
	flagDisks     bool
	flagCloudInit bool
)

func addDisplayFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagLong, "long", "l", false, "display more information")
	cmd.Flags().BoolVarP(&flagUSBPorts, "usb-ports", "u", false, "list bound USB ports")
	cmd.Flags().BoolVarP(&flagDisks, "disks", "d", false, "list disk images")
	cmd.Flags().BoolVarP(&flagCloudInit, "cloud-init", "c", false, "display cloud-init information")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	RunE: func(cmd *cobra.Command, args []string) error {
		vms, err := client.VMs(cmd.Context())
		if err != nil {
			return err
		}
		if len(vms) == 0 {
			fmt.Fprintln(os.Stderr, "No VM available")
			return nil
		}
		printVMs(vms)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <vm>",
	Short: "Show information about a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := selectVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printVMs([]freebox.VM{selected})
		return nil
	},
}

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Display Freebox VM host information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := client.SystemInfo(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Total memory: %s\tUsed memory: %s\t(%d %%)\n",
			humanize.IBytes(uint64(info.TotalMemory)), humanize.IBytes(uint64(info.UsedMemory)),
			percent(info.UsedMemory, info.TotalMemory))
		fmt.Printf("Total CPUs: %d\tUsed CPUs: %d\t(%d %%)\n",
			info.TotalCPUs, info.UsedCPUs, percent(int64(info.UsedCPUs), int64(info.TotalCPUs)))
		fmt.Printf("External USB allocated: %s\n", yesNo(info.USBUsed))
		fmt.Println("Available USB ports:")
		for _, port := range info.USBPorts {
			fmt.Printf("   %s\n", port)
		}
		return nil
	},
}

var poweronCmd = &cobra.Command{
	Use:   "poweron <vm>",
	Short: "Power on a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Starting '%s' (VM #%d)\n", selected.Name, selected.ID)
		if err := client.Start(ctx, selected.ID); err != nil {
			return err
		}
		return attach(ctx, selected)
	},
}

var flagForce bool

var poweroffCmd = &cobra.Command{
	Use:   "poweroff <vm>",
	Short: "Power off a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Powering off '%s' (VM #%d)\n", selected.Name, selected.ID)
		if flagForce {
			return client.Stop(ctx, selected.ID)
		}
		return client.PowerButton(ctx, selected.ID)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <vm>",
	Short: "Reset a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Restarting '%s' (VM #%d)\n", selected.Name, selected.ID)
		return client.Restart(ctx, selected.ID)
	},
}

var (
	flagDeleteDisk  bool
	flagDeleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <vm>",
	Short: "Delete a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		selected, err := selectVM(ctx, args[0])
		if err != nil {
			return err
		}

		if selected.Status != freebox.VMStatusStopped {
			if !flagDeleteForce {
				return fmt.Errorf("VM is up (%s), refusing to delete without --force", selected.Status)
			}
			fmt.Fprintln(os.Stderr, "VM is up, forcing it off")
			if err := client.Stop(ctx, selected.ID); err != nil {
				return err
			}
			for selected.Status != freebox.VMStatusStopped {
				select {
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
				selected, err = client.VM(ctx, selected.ID)
				if err != nil {
					return err
				}
			}
		}

		diskPathB64 := selected.DiskPath
		if err := client.DeleteVM(ctx, selected.ID); err != nil {
			return err
		}
		if flagDeleteDisk && diskPathB64 != "" {
			diskPath, err := base64.StdEncoding.DecodeString(diskPathB64)
			if err != nil {
				return fmt.Errorf("decode disk path: %w", err)
			}
			efivars := base64.StdEncoding.EncodeToString([]byte(string(diskPath) + ".efivars"))
			if err := client.RemoveFiles(ctx, []string{efivars}); err != nil {
				logger.Warn().Err(err).Msg("could not remove efivars file")
			}
			if err := client.RemoveFiles(ctx, []string{diskPathB64}); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	addDisplayFlags(listCmd)
	addDisplayFlags(showCmd)
	poweroffCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "force power off")
	deleteCmd.Flags().BoolVarP(&flagDeleteDisk, "disk", "d", false, "also delete the disk image")
	deleteCmd.Flags().BoolVarP(&flagDeleteForce, "force", "f", false, "delete even if the VM is running")
	rootCmd.AddCommand(listCmd, showCmd, systemCmd, poweronCmd, poweroffCmd, resetCmd, deleteCmd)
}

// selectVM resolves a command-line VM selector against the current VM list.
func selectVM(ctx context.Context, selector string) (freebox.VM, error) {
	vms, err := client.VMs(ctx)
	if err != nil {
		return freebox.VM{}, err
	}
	return vm.Select(vms, selector)
}

func printVMs(vms []freebox.VM) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
	if flagLong {
		fmt.Fprintln(w, "ID\tSTATUS\tNAME\tOS\tMAC\tVCPUS\tMEMORY\tDISPLAY")
	} else {
		fmt.Fprintln(w, "ID\tSTATUS\tNAME")
	}
	for _, v := range vms {
		if flagLong {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%t\n",
				v.ID, v.Status, v.Name, v.OS, v.Mac, v.VCPUs, v.Memory, v.EnableScreen)
		} else {
			fmt.Fprintf(w, "%d\t%s\t%s\n", v.ID, v.Status, v.Name)
		}
	}
	w.Flush()

	for _, v := range vms {
		if flagUSBPorts {
			if len(v.BindUSBPorts) > 0 {
				fmt.Printf("\tUSB ports: %s\n", strings.Join(v.BindUSBPorts, ", "))
			} else {
				fmt.Println("\tNo USB ports")
			}
		}
		if flagDisks {
			fmt.Printf("\tDisk image: %s (%s)\n", decodePath(v.DiskPath), v.DiskType)
			if v.CDPath != "" {
				fmt.Printf("\tCD image: %s\n", decodePath(v.CDPath))
			} else {
				fmt.Println("\tNo CDROM device image")
			}
		}
		if flagCloudInit {
			if v.EnableCloudInit {
				fmt.Printf("\tCloud-init hostname: %s\n", v.CloudInitHostname)
				fmt.Println("\tCloud-init user-data:")
				fmt.Println(v.CloudInitUserData)
			} else {
				fmt.Println("\tCloud-init is disabled")
			}
		}
	}
}

func decodePath(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return b64
	}
	return string(raw)
}

func percent(used, total int64) int64 {
	if total == 0 {
		return 0
	}
	return used * 100 / total
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
