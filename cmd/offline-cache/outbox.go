package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/iTrooz/offline-cache/internal/proxy"

	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List contact messages waiting to be relayed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		queue, err := proxy.OpenOutbox(cfg)
		if err != nil {
			return fmt.Errorf("failed to open contact outbox: %w", err)
		}
		defer func() { _ = queue.Close() }()

		pending, err := queue.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending messages")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUEUED\tFROM\tSUBJECT")
		for _, sub := range pending {
			fmt.Fprintf(w, "%s\t%s\t%s <%s>\t%s\n", sub.ID, sub.CreatedAt.Format(time.RFC3339), sub.Name, sub.Email, sub.Subject)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(outboxCmd)
}
