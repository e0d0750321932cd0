package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskrun/internal/flow"
)

var describeFormat string

var describeCmd = &cobra.Command{
	Use:   "describe NAME",
	Short: "Show the steps of a task or flow",
	Long: `Expands a registered task into the tree of steps it runs. Steps that are
themselves manifest flows are expanded in place.

Formats: text (default), dot for Graphviz, json.

Example:
taskrun describe nightly --manifest ./tasks --format dot | dot -Tpng > nightly.png
`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		switch describeFormat {
		case "text", "dot", "json":
			return nil
		default:
			return fmt.Errorf("invalid --format %q, expected text, dot or json", describeFormat)
		}
	},
	RunE: runDescribe,
}

func init() {
	describeCmd.Flags().StringVarP(&describeFormat, "format", "f", "text", "Output format: text, dot or json")
	rootCmd.AddCommand(describeCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd.Context(), nil)
	if err != nil {
		return err
	}

	g, err := flow.Describe(m, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch describeFormat {
	case "dot":
		fmt.Fprint(out, g.DOT())
	case "json":
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode graph: %w", err)
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprint(out, g.Text())
	}
	return nil
}
