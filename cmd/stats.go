package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classchat/classchat/internal/schema"
	"github.com/classchat/classchat/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-table row counts",
	Long:  `Show an overview of the school database: every table and its exact row count.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	introspector := schema.NewIntrospector(db)

	desc, err := introspector.Describe(ctx)
	if err != nil {
		return err
	}

	counts, err := introspector.Counts(ctx, desc)
	if err != nil {
		return err
	}

	fmt.Println("Database Overview")
	fmt.Println("=================")

	var total int64

	for _, t := range desc.Tables {
		fmt.Printf("%-24s %d rows\n", t.Name, counts[t.Name])
		total += counts[t.Name]
	}

	fmt.Printf("\nTotal: %d rows across %d tables\n", total, len(desc.Tables))

	return nil
}
