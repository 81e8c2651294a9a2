package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/catalog"
	"github.com/fbxtools/fbxvm/internal/freebox"
	"github.com/fbxtools/fbxvm/internal/vm"
)

// Images are downloaded under the Freebox internal disk by default.
const installDownloadDir = "/Disque 1/VMs/"

var (
	flagInstallDistro    string
	flagInstallName      string
	flagInstallMemory    int64
	flagInstallVCPUs     int
	flagInstallCDROM     string
	flagInstallLocation  string
	flagInstallDisk      string
	flagInstallDiskSize  string
	flagInstallCloudInit bool
	flagInstallCIHost    string
	flagInstallCIData    string
	flagInstallScreen    bool
	flagInstallOS        string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a new VM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if flagVNCProxy && !flagInstallScreen {
			return fmt.Errorf("--enable-screen is required to use --vnc-proxy")
		}

		osName := flagInstallOS
		cdromPath := flagInstallCDROM
		diskPath := flagInstallDisk

		var diskSize int64
		if flagInstallDiskSize != "" {
			var err error
			diskSize, err = vm.ParseSize(flagInstallDiskSize)
			if err != nil {
				return err
			}
		}

		location := flagInstallLocation
		hash := ""
		if flagInstallDistro != "" {
			entries, err := catalog.List(ctx, client)
			if err != nil {
				return err
			}
			entry, ok := catalog.Find(entries, flagInstallDistro)
			if !ok {
				return fmt.Errorf("unknown distribution %q, see 'fbxvm os-list'", flagInstallDistro)
			}
			if location == "" {
				location = entry.URL
			}
			hash = entry.Hash
			osName = entry.OS
		}

		if location != "" {
			if cdromPath != "" {
				return fmt.Errorf("--location and --cdrom are mutually exclusive")
			}
			req := freebox.DownloadRequest{
				DownloadURL: location,
				DownloadDir: base64.StdEncoding.EncodeToString([]byte(installDownloadDir)),
				Hash:        hash,
			}
			if flagInstallCloudInit && diskPath != "" {
				req.Filename = path.Base(diskPath)
			}
			fmt.Fprintf(os.Stderr, "Downloading %s\n", location)
			filepath, err := fetch(ctx, req, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Downloaded %s\n", filepath)
			if flagInstallCloudInit {
				diskPath = filepath
			} else {
				cdromPath = filepath
			}
		}

		config := map[string]any{
			"enable_screen":  flagInstallScreen,
			"bind_usb_ports": []string{},
		}
		if flagInstallName != "" {
			config["name"] = flagInstallName
		}
		if flagInstallVCPUs > 0 {
			config["vcpus"] = flagInstallVCPUs
		}
		if flagInstallMemory > 0 {
			config["memory"] = flagInstallMemory
		}
		if osName != "" {
			config["os"] = osName
		}
		if cdromPath != "" {
			config["cd_path"] = base64.StdEncoding.EncodeToString([]byte(cdromPath))
		}

		if diskPath != "" {
			pathB64 := base64.StdEncoding.EncodeToString([]byte(diskPath))
			info, err := ensureDisk(ctx, pathB64, diskPath, diskSize)
			if err != nil {
				return err
			}
			config["disk_path"] = pathB64
			config["disk_type"] = info.Type
		}

		if flagInstallCloudInit {
			config["enable_cloudinit"] = true
			config["cloudinit_hostname"] = flagInstallCIHost
			if flagInstallCIData != "" {
				userdata, err := os.ReadFile(flagInstallCIData)
				if err != nil {
					return err
				}
				config["cloudinit_userdata"] = string(userdata)
			}
		}

		created, err := client.CreateVM(ctx, config)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Created '%s' (VM #%d)\n", created.Name, created.ID)
		if err := client.Start(ctx, created.ID); err != nil {
			return err
		}
		return attach(ctx, created)
	},
}

// ensureDisk makes sure the disk image exists with at least the requested
// size, creating or growing it through the event correlator as needed.
func ensureDisk(ctx context.Context, pathB64, diskPath string, diskSize int64) (freebox.DiskInfo, error) {
	info, err := client.DiskInfo(ctx, pathB64)
	if err != nil {
		if diskSize == 0 {
			return info, fmt.Errorf("disk %s does not exist and no --disk-size was given", diskPath)
		}
		diskType, terr := diskTypeFromName(diskPath)
		if terr != nil {
			return info, terr
		}
		if err := diskCreate(ctx, pathB64, diskSize, diskType); err != nil {
			return info, err
		}
		info, err = client.DiskInfo(ctx, pathB64)
		if err != nil {
			return info, err
		}
		fmt.Fprintf(os.Stderr, "Created disk %s, size %d, type %s\n", diskPath, info.VirtualSize, diskType)
	}

	if diskSize > 0 && info.VirtualSize < diskSize {
		if err := diskResize(ctx, pathB64, diskSize, false); err != nil {
			return info, err
		}
		info, err = client.DiskInfo(ctx, pathB64)
		if err != nil {
			return info, err
		}
		fmt.Fprintf(os.Stderr, "Resized disk to %d\n", info.VirtualSize)
	}
	return info, nil
}

func diskTypeFromName(name string) (string, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".qcow2"):
		return "qcow2", nil
	case strings.HasSuffix(lower, ".img"), strings.HasSuffix(lower, ".raw"):
		return "raw", nil
	default:
		return "", fmt.Errorf("cannot determine the disk type of %s", name)
	}
}

func init() {
	installCmd.Flags().StringVarP(&flagInstallDistro, "install", "i", "", "distro short-id to install (see os-list)")
	installCmd.Flags().StringVarP(&flagInstallName, "name", "n", "", "name of the VM")
	installCmd.Flags().Int64Var(&flagInstallMemory, "memory", 0, "memory size of the VM")
	installCmd.Flags().IntVar(&flagInstallVCPUs, "vcpus", 0, "number of vCPUs")
	installCmd.Flags().StringVar(&flagInstallCDROM, "cdrom", "", "CDROM image path")
	installCmd.Flags().StringVar(&flagInstallLocation, "location", "", "boot media URL")
	installCmd.Flags().StringVar(&flagInstallDisk, "disk", "", "disk image path")
	installCmd.Flags().StringVar(&flagInstallDiskSize, "disk-size", "", "disk image size")
	installCmd.Flags().BoolVar(&flagInstallCloudInit, "cloud-init", false, "enable cloud-init")
	installCmd.Flags().StringVar(&flagInstallCIHost, "cloud-init-hostname", "", "cloud-init hostname")
	installCmd.Flags().StringVar(&flagInstallCIData, "cloud-init-userdata", "", "cloud-init user-data file")
	installCmd.Flags().BoolVar(&flagInstallScreen, "enable-screen", false, "enable the VNC screen")
	installCmd.Flags().StringVar(&flagInstallOS, "os", "", "OS name")
	addAttachFlags(installCmd)
	rootCmd.AddCommand(installCmd)
}
