package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/pkg/core/scheduler"
	"github.com/batchctl/batchctl/pkg/core/status"
)

var addJobCmd = &cobra.Command{
	Use:   "add-job",
	Short: "Register a new job in the session",
	Long: `add-job runs the add_job pipeline (token substitution, status-label
marker rewriting, predicate synthesis) and writes the job's run-script and
snapshot to disk. It does not submit the job; "run" picks it up on its next
tick once its dependencies (--parent-tags) are satisfied.`,
	RunE: runAddJob,
}

func init() {
	f := addJobCmd.Flags()
	f.String("name", "", "Job name (auto-generated when omitted)")
	f.String("script", "", "Path to the job's script file")
	f.StringSlice("args", nil, "Arguments appended to the script invocation")
	f.StringSlice("tags", nil, "Tags this job carries")
	f.StringSlice("parent-tags", nil, "Tags this job depends on (DependencyResolver readiness)")
	f.String("type", "", "Job type: local or batch (defaults to local when BATCHCTL_BACKEND is local, else batch)")
	f.Int("max-retries", 0, "Maximum retry attempts on FAILED/CANCELLED")
	f.String("output", "", "Output file path; when set, its presence is the SUCCESS predicate")
	_ = addJobCmd.MarkFlagRequired("script")
}

func runAddJob(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	scriptPath, _ := cmd.Flags().GetString("script")
	jobArgs, _ := cmd.Flags().GetStringSlice("args")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	parentTags, _ := cmd.Flags().GetStringSlice("parent-tags")
	typeFlag, _ := cmd.Flags().GetString("type")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	output, _ := cmd.Flags().GetString("output")

	body, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("cli: read script %q: %w", scriptPath, err)
	}

	var jobType status.Type
	switch typeFlag {
	case "":
		jobType = ""
	case string(status.Local):
		jobType = status.Local
	case string(status.Batch):
		jobType = status.Batch
	default:
		return fmt.Errorf("cli: --type must be %q or %q, got %q", status.Local, status.Batch, typeFlag)
	}

	j, err := sess.sched.AddJobFromSpec(scheduler.JobSpec{
		Name:       name,
		ScriptBody: string(body),
		Args:       jobArgs,
		Tags:       tags,
		ParentTags: parentTags,
		Type:       jobType,
		MaxRetries: maxRetries,
		OutputPath: output,
	})
	if err != nil {
		return err
	}

	if err := sess.sched.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "added job %q\n", j.Name())
	return nil
}
