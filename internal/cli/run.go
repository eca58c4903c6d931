package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the session's control loop until every job reaches a terminal status",
	Long: `run drives the session control loop: submit ready jobs, poll listeners,
retry FAILED/CANCELLED jobs up to their budget, snapshot after every tick,
and exit once every job is SUCCESS, FAILED, or CANCELLED.

A first SIGINT stops submitting new jobs and lets in-flight ones finish; a
second cancels every running LOCAL child.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.Duration("interval", 2*time.Second, "Tick interval; 0 ticks on each stdin line instead")
	f.Bool("retry", false, "Force one retry attempt on every job already FAILED/CANCELLED at startup")
	f.Duration("listen-interval", 5*time.Second, "Poll interval for backend/output-file listeners")
}

func runRun(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	retry, _ := cmd.Flags().GetBool("retry")
	listenInterval, _ := cmd.Flags().GetDuration("listen-interval")

	if sess.opts.Listens {
		sess.sched.AttachBackendListener(listenInterval)
		sess.sched.AttachOutputListener(listenInterval, sess.opts.OutputMaxAttempts)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := sess.sched.RunJobs(ctx, interval, retry); err != nil {
		return fmt.Errorf("cli: run: %w", err)
	}
	return sess.sched.Flush()
}
