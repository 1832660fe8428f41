package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <folder>",
	Short: "Show the manifest and artifacts of a project folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = root.Close() }()

		info, err := newEngine(nil, false).Describe(root.Folder())
		if err != nil {
			return err
		}
		m := info.Manifest
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Format:    %s\n", m.Version)
		if !m.Created.IsZero() {
			fmt.Fprintf(w, "Created:   %s\n", m.Created.Format("2006-01-02 15:04:05Z07:00"))
			fmt.Fprintf(w, "Modified:  %s\n", m.LastModified.Format("2006-01-02 15:04:05Z07:00"))
		}
		fmt.Fprintf(w, "Model:     %s\n", m.Settings.Model.EffectiveMode())
		fmt.Fprintf(w, "Report:    %s\n", m.Settings.Report.EffectiveMode())
		fmt.Fprintf(w, "Mashup:    %s\n", m.Settings.Mashup.EffectiveMode())
		fmt.Fprintf(w, "Artifacts: %s\n", strings.Join(info.Artifacts, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
