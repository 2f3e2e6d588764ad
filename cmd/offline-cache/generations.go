package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/iTrooz/offline-cache/internal/proxy"

	"github.com/spf13/cobra"
)

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "List the cache generations in the configured storage",
	Long: `Lists every cache generation found in the configured storage with its
number of entries. The generation named in the config is marked with *.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		storage, err := proxy.OpenStorage(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to open cache storage: %w", err)
		}
		defer func() { _ = storage.Close() }()

		gens, err := proxy.ListGenerations(cmd.Context(), storage, cfg.Cache.Name)
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			fmt.Println("No cache generations")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tNAME\tENTRIES")
		for _, g := range gens {
			mark := ""
			if g.Current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\n", mark, g.Name, g.Entries)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(generationsCmd)
}
