package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel every RUNNING job, or only those matching --tags",
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringSlice("tags", nil, "Only cancel RUNNING jobs carrying one of these tags")
}

func runCancel(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}

	tags, _ := cmd.Flags().GetStringSlice("tags")
	if err := sess.sched.CancelJobs(cmd.Context(), tags); err != nil {
		return err
	}

	if err := sess.sched.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "cancelled running jobs")
	return nil
}
