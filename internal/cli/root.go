// Package cli implements batchctl's command-line surface, a thin cobra
// wrapper over pkg/core: a root command plus a handful of subcommands
// that construct core types and call straight through to them.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo contains build-time information.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var buildInfo BuildInfo

var rootCmd = &cobra.Command{
	Use:   "batchctl",
	Short: "Submit and track a DAG of shell-script jobs across local and batch backends",
	Long: `batchctl orchestrates a dependency graph of shell-script jobs, submitting
each one to a LOCAL subprocess or a BATCH backend (currently Kubernetes Jobs
via the k8sjob adapter) and tracking it through CONFIGURED -> RUNNING ->
FINISHED -> {SUCCESS, FAILED, CANCELLED}.

A session lives under --work-dir/--session: every job's config and the
session's own settings are snapshotted there after each tick, so a crashed
or interrupted "run" picks back up where it left off.

Getting Started:
  batchctl add-job --name build --script ./build.sh --tags build
  batchctl add-job --name test --script ./test.sh --parent-tags build
  batchctl run --interval 2s`,
	Version: buildInfo.Version,
}

// Execute adds all child commands to the root command and runs it. Called
// once from cmd/batchctl/main.go.
func Execute(info BuildInfo) error {
	buildInfo = info
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("work-dir", ".", "Root directory for session state, scripts, and logs")
	rootCmd.PersistentFlags().String("session", "default", "Session name (session directory: <work-dir>/<session>)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.PersistentFlags().String("batch-namespace", "default", "Kubernetes namespace for BATCH-type jobs")
	rootCmd.PersistentFlags().String("batch-image", "", "Container image BATCH-type job pods run (required when BATCHCTL_BACKEND=batch)")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to a kubeconfig file; empty uses in-cluster config")

	rootCmd.AddCommand(addJobCmd, runCmd, statusCmd, resetCmd, cancelCmd)
}
