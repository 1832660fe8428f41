package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/pbixproj/internal/ingest"
)

var compileOpts struct {
	out       string
	format    string
	overwrite bool
	settings  string
}

var compileCmd = &cobra.Command{
	Use:   "compile <folder>",
	Short: "Compile a project folder into a template package or a single JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Clean(args[0])
		format, err := ingest.ParseOutputFormat(compileOpts.format)
		if err != nil {
			return err
		}
		out := compileOpts.out
		if out == "" {
			out = dir + "." + string(format)
		}
		settings, err := loadSettings(compileOpts.settings, "")
		if err != nil {
			return err
		}
		if err := newEngine(settings, false).CompileFile(dir, out, format, compileOpts.overwrite); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compiled %s into %s.\n", dir, out)
		return nil
	},
}

func init() {
	f := compileCmd.Flags()
	f.StringVarP(&compileOpts.out, "out", "o", "", "Output file (default: folder name plus format extension)")
	f.StringVar(&compileOpts.format, "format", string(ingest.FormatPBIT), "Output format: pbit or json")
	f.BoolVar(&compileOpts.overwrite, "overwrite", false, "Replace an existing output file")
	f.StringVar(&compileOpts.settings, "settings", "", "Settings override file (JSON, JSONC or YAML)")
	rootCmd.AddCommand(compileCmd)
}
