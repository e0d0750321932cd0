package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskrun/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered tasks",
	Long: `Lists every task taskrun knows about: the built-in tasks, the flow tasks and
the tasks loaded from --manifest.

Example:
taskrun list --manifest ./tasks
`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	m, err := newManager(cmd.Context(), nil)
	if err != nil {
		return err
	}

	table := utils.NewTableFormatter("NAME", "VARIANT", "SINGLETON", "SUSPENDABLE", "CANCELABLE", "CONCURRENCY", "DESCRIPTION")
	for _, name := range m.GetTaskNames() {
		d, err := m.GetTask(name)
		if err != nil {
			continue
		}
		concurrency := "-"
		if d.Concurrency > 0 {
			concurrency = fmt.Sprintf("%d/%s", d.Concurrency, d.Interval)
		}
		table.AddRow(
			d.Name,
			d.Variant,
			strconv.FormatBool(d.Singleton),
			strconv.FormatBool(d.Suspendable),
			strconv.FormatBool(d.Cancelable),
			concurrency,
			d.Description,
		)
	}

	fmt.Fprint(cmd.OutOrStdout(), table.String())
	return nil
}
