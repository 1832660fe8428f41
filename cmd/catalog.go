package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var catalogOverwrite bool

var catalogCmd = &cobra.Command{
	Use:   "catalog <folder> <output.db>",
	Short: "Index the model and report of a project into a SQLite database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = root.Close() }()

		start := time.Now()
		n, err := newEngine(nil, false).BuildCatalog(root.Folder(), args[1], catalogOverwrite)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d objects into %s in %v.\n", n, args[1], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	catalogCmd.Flags().BoolVar(&catalogOverwrite, "overwrite", false, "Replace an existing database")
	rootCmd.AddCommand(catalogCmd)
}
