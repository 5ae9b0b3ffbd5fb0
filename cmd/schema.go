package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/classchat/classchat/internal/schema"
	"github.com/classchat/classchat/internal/store"
)

var flagSampleTable string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	Long: `Print the tables, columns, and relationships the assistant can see,
exactly as they are presented to the model.

Examples:
  classchat schema
  classchat schema --sample students`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVar(&flagSampleTable, "sample", "", "Also print sample rows for the named table")

	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, _ []string) error {
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

	fmt.Print(desc.Render())

	if flagSampleTable == "" {
		return nil
	}

	columns, rows, err := introspector.SampleRows(ctx, desc, flagSampleTable, 5)
	if err != nil {
		return err
	}

	fmt.Printf("\nSample rows from %s:\n", flagSampleTable)
	fmt.Println(strings.Join(columns, "\t"))

	for _, row := range rows {
		fmt.Println(strings.Join(row, "\t"))
	}

	return nil
}
