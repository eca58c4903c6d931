package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/batchctl/batchctl/pkg/core/job"
	"github.com/batchctl/batchctl/pkg/core/parser"
	"github.com/batchctl/batchctl/pkg/core/status"
)

// JobSpec is what a caller (the CLI's add-job command, a REPL, a config
// file loader) hands the Scheduler to register one job: the raw,
// pre-parse, pre-predicate-synthesis description AddJobFromSpec turns
// into a written script and a registered Job.
type JobSpec struct {
	// Name is optional; when empty, Scheduler synthesizes one via the
	// container's NameGenerator.
	Name string

	// ScriptBody is the raw script text, before @BATCHCTL.<key> token
	// substitution and status-label marker rewriting.
	ScriptBody string
	Args       []string

	Tags       []string
	ParentTags []string

	Type       status.Type
	MaxRetries int
	OutputPath string
	StartTime  *time.Time

	// Wrapper prepends a fixed shell prelude (module loads, environment
	// setup) to the script body before it is written to disk.
	Wrapper func(body string) string

	// FinishedPredicate/SuccessPredicate/PostHook let a caller supply
	// custom predicates; nil picks up whatever AddJobFromSpec synthesizes
	// from OutputPath/script markers.
	FinishedPredicate job.FinishedPredicate
	SuccessPredicate  job.SuccessPredicate
	PostHook          job.PostHook
}

// AddJobFromSpec runs the full add-job pipeline and inserts the resulting
// Job into the container: resolve the name, substitute @BATCHCTL.<key>
// tokens, rewrite @BATCHCTL.FINISHED/SUCCESS status-label markers into
// synthesized predicates, write the run-script to disk with executable
// bits, then construct and register the Job.
func (s *Scheduler) AddJobFromSpec(spec JobSpec) (*job.Job, error) {
	if spec.Type == "" {
		if s.opts.DefaultBackend == string(status.Local) {
			spec.Type = status.Local
		} else {
			spec.Type = status.Batch
		}
	}

	if spec.MaxRetries == 0 {
		spec.MaxRetries = s.opts.DefaultMaxRetries
	}

	autoNamed := spec.Name == ""
	name := spec.Name
	if autoNamed {
		name = s.container.NextName()
	} else if err := job.ValidateName(name); err != nil {
		return nil, err
	}

	layout := NewLayout(s.opts.WorkDir, s.opts.SessionName)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("scheduler: prepare session directories: %w", err)
	}

	attrs := map[string]string{
		"name":        name,
		"output_path": spec.OutputPath,
		"max_retries": strconv.Itoa(spec.MaxRetries),
		"type":        string(spec.Type),
	}
	body, unresolved := parser.Replace(spec.ScriptBody, attrs)
	for _, key := range unresolved {
		// Status-label markers are rewritten below, not substituted here.
		if key == string(parser.MarkerFinished) || key == string(parser.MarkerSuccess) {
			continue
		}
		s.log.Info("unresolved @BATCHCTL token in script", "job", name, "key", key)
	}

	finSpec := job.PredicateSpec{Kind: job.KindDefault}
	if body2, finPath, found := parser.SetStatusLabel(body, name, layout.TmpDir(), parser.MarkerFinished); found {
		body = body2
		finSpec = job.PredicateSpec{Kind: job.KindOutputFile, Path: finPath}
	}

	succSpec := job.PredicateSpec{Kind: job.KindDefault}
	if spec.OutputPath != "" {
		succSpec = job.PredicateSpec{Kind: job.KindOutputFile, Path: spec.OutputPath, MaxAttempts: s.opts.OutputMaxAttempts}
		// An @BATCHCTL.SUCCESS marker is ignored (with a warning) when the
		// job also declares an output path; never honor both.
		if containsSuccessMarker(body) {
			s.log.Info("ignoring @BATCHCTL.SUCCESS marker: job also declares an output path", "job", name)
		}
	} else if body2, succPath, found := parser.SetStatusLabel(body, name, layout.TmpDir(), parser.MarkerSuccess); found {
		body = body2
		succSpec = job.PredicateSpec{Kind: job.KindOutputFile, Path: succPath, MaxAttempts: s.opts.OutputMaxAttempts}
	}

	if spec.Wrapper != nil {
		body = spec.Wrapper(body)
	}
	if len(body) < 2 || body[:2] != "#!" {
		body = "#!/bin/bash\n" + body
	}

	scriptPath := filepath.Join(layout.ScriptsDir(), name+".sh")
	if err := os.WriteFile(scriptPath, []byte(body), 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: write script for job %q: %w", name, err)
	}

	modes := status.DefaultModes()
	if s.opts.Listens {
		modes[status.Running] = status.Passive
	}
	if succSpec.Kind == job.KindOutputFile && spec.SuccessPredicate == nil {
		modes[status.Finished] = status.Passive
	}

	cfg := job.Config{
		Name:         name,
		ScriptPath:   scriptPath,
		Args:         spec.Args,
		Tags:         spec.Tags,
		ParentTags:   spec.ParentTags,
		FinishedSpec: finSpec,
		SuccessSpec:  succSpec,
		HasPostHook:  spec.PostHook != nil,
		MaxRetries:   spec.MaxRetries,
		OutputPath:   spec.OutputPath,
		Type:         spec.Type,
		Modes:        modes,
		Status:       status.Configured,
		StartTime:    spec.StartTime,
	}

	be := s.backendFor(spec.Type)
	j, err := job.New(job.Params{
		Config:            cfg,
		Logger:            s.log,
		Backend:           be,
		FinishedPredicate: spec.FinishedPredicate,
		SuccessPredicate:  spec.SuccessPredicate,
		PostHook:          spec.PostHook,
		LogPath:           filepath.Join(layout.LogsDir(), name),
	})
	if err != nil {
		return nil, err
	}

	if err := s.AddJob(j, autoNamed); err != nil {
		return nil, err
	}
	return j, nil
}

func containsSuccessMarker(body string) bool {
	return strings.Contains(body, "@BATCHCTL.SUCCESS")
}
