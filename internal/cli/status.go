package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every job's current status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tRETRIES")
	for _, j := range sess.sched.Jobs() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n", j.Name(), j.Type(), j.Status(), j.NRetries(), j.MaxRetries())
	}
	return w.Flush()
}
