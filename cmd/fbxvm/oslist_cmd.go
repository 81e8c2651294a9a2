package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/catalog"
)

var (
	flagOSListLong  bool
	flagOSListCheck bool
	flagOSFilter    []string
)

var osListCmd = &cobra.Command{
	Use:   "os-list",
	Short: "List installable distributions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entries, err := catalog.List(ctx, client)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No distribution available")
			return nil
		}

		filter := map[string]bool{}
		for _, name := range flagOSFilter {
			filter[name] = true
		}

		for _, e := range entries {
			if len(filter) > 0 && !filter[e.OS] {
				continue
			}
			fmt.Printf("%s (%s)\n", e.Name, e.ShortID)
			if flagOSListCheck && !catalog.Check(ctx, e.URL, e.Hash) {
				fmt.Println("\t-> invalid URL or checksum URL")
			}
			if flagOSListLong {
				fmt.Printf("\t%s\n", e.OS)
				fmt.Printf("\t%s\n", e.URL)
				if e.Hash != "" {
					fmt.Printf("\t%s\n", e.Hash)
				} else {
					fmt.Println("\tNo hash/checksum URL")
				}
			}
		}
		return nil
	},
}

func init() {
	osListCmd.Flags().BoolVarP(&flagOSListLong, "long", "l", false, "display more information")
	osListCmd.Flags().BoolVarP(&flagOSListCheck, "check", "c", false, "check that the URL is valid")
	osListCmd.Flags().StringSliceVarP(&flagOSFilter, "os", "o", nil, "filter by OS name (fedora, ubuntu, ...)")
	rootCmd.AddCommand(osListCmd)
}
