package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insight-cli/internal/model"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "Inspect documents written by analysis runs",
}

var outputsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List output documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		prefix, _ := cmd.Flags().GetString("prefix")
		limit, _ := cmd.Flags().GetInt("limit")

		outputs, err := st.ListOutputs(ctx, prefix, limit)
		if err != nil {
			return eris.Wrap(err, "outputs list")
		}
		if len(outputs) == 0 {
			fmt.Fprintln(os.Stderr, "No outputs found.")
			return nil
		}

		formatOutputsList(os.Stdout, outputs)
		return nil
	},
}

var outputsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print one output document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out, err := st.GetOutput(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "outputs show")
		}
		_, err = fmt.Fprintln(os.Stdout, out.Content)
		return err
	},
}

func init() {
	outputsListCmd.Flags().String("prefix", "", "only keys starting with this prefix, e.g. a run ID")
	outputsListCmd.Flags().Int("limit", 100, "max number of outputs to display")

	outputsCmd.AddCommand(outputsListCmd)
	outputsCmd.AddCommand(outputsShowCmd)
	rootCmd.AddCommand(outputsCmd)
}

// formatOutputsList writes a tabular list of outputs to w.
func formatOutputsList(out io.Writer, outputs []model.OutputInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE\tCREATED")
	for _, o := range outputs {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
