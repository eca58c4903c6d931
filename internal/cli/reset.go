package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [job-name]",
	Short: "Reset a terminal job back to CONFIGURED so the next run resubmits it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().Bool("reset-retries", false, "Also zero the job's retry counter")
}

func runReset(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}

	name := args[0]
	j, ok := sess.sched.Job(name)
	if !ok {
		return fmt.Errorf("cli: no such job %q", name)
	}

	resetRetries, _ := cmd.Flags().GetBool("reset-retries")
	if err := j.Reset(resetRetries); err != nil {
		return err
	}

	if err := sess.sched.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reset job %q to %s\n", j.Name(), j.Status())
	return nil
}
