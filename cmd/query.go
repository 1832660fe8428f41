package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/pbixproj/internal/convert"
	"github.com/agentic-research/pbixproj/internal/query"
	"github.com/agentic-research/pbixproj/internal/tree"
)

var queryCmd = &cobra.Command{
	Use:   "query <folder> <artifact> <jsonpath>",
	Short: "Evaluate a JSONPath selector against an artifact of a project",
	Example: `  pbixproj query ./Sales Model '$.model.tables[*].name'
  pbixproj query ./Sales Report '$.sections[*].displayName'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openProject(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = root.Close() }()

		v, err := newEngine(nil, false).LoadArtifact(root.Folder(), args[1])
		if err != nil {
			return err
		}
		if convert.IsAbsent(v) {
			return fmt.Errorf("artifact %s not found in %s", args[1], args[0])
		}
		matches, err := query.Select(v, args[2])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, m := range matches {
			if s, ok := m.Tree().(tree.String); ok {
				fmt.Fprintln(w, string(s))
				continue
			}
			_, _ = w.Write(tree.MarshalIndent(m.Tree()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
