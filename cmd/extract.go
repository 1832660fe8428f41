package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var extractOpts struct {
	out       string
	overwrite bool
	settings  string
	mode      string
	legacy    bool
}

var extractCmd = &cobra.Command{
	Use:   "extract <package>",
	Short: "Extract a package into a project folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]
		out := extractOpts.out
		if out == "" {
			out = strings.TrimSuffix(src, filepath.Ext(src))
		}
		settings, err := loadSettings(extractOpts.settings, extractOpts.mode)
		if err != nil {
			return err
		}

		start := time.Now()
		e := newEngine(settings, extractOpts.legacy)
		if err := e.ExtractFile(cmd.Context(), src, out, extractOpts.overwrite); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Extracted %s into %s in %v.\n", src, out, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringVarP(&extractOpts.out, "out", "o", "", "Project folder (default: package path without extension)")
	f.BoolVar(&extractOpts.overwrite, "overwrite", false, "Write into an existing, non-empty folder")
	f.StringVar(&extractOpts.settings, "settings", "", "Settings override file (JSON, JSONC or YAML)")
	f.StringVar(&extractOpts.mode, "mode", "", "Serialization mode for model, report and mashup: Default or Raw")
	f.BoolVar(&extractOpts.legacy, "legacy", false, "Accept packages without a version part")
	rootCmd.AddCommand(extractCmd)
}
