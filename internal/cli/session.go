package cli

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/backend/k8sjob"
	"github.com/batchctl/batchctl/pkg/core/backend"
	"github.com/batchctl/batchctl/pkg/core/container"
	"github.com/batchctl/batchctl/pkg/core/options"
	"github.com/batchctl/batchctl/pkg/core/printer"
	"github.com/batchctl/batchctl/pkg/core/resolver"
	"github.com/batchctl/batchctl/pkg/core/scheduler"
	"github.com/batchctl/batchctl/pkg/core/snapshot"
)

// session bundles the collaborators every subcommand needs: a Scheduler
// (fresh or reloaded from snapshot) plus the pieces a follow-up call might
// still need (the Store, to flush; the backend, to attach listeners).
type session struct {
	sched  *scheduler.Scheduler
	store  *snapshot.Store
	be     backend.Backend
	log    logr.Logger
	opts   options.Options
	layout scheduler.Layout
}

// openSession loads --work-dir/--session's persisted state if present,
// otherwise builds a fresh session.
func openSession(cmd *cobra.Command) (*session, error) {
	workDir, err := cmd.Flags().GetString("work-dir")
	if err != nil {
		return nil, err
	}
	sessionName, err := cmd.Flags().GetString("session")
	if err != nil {
		return nil, err
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	logFormat, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}

	log, err := newLogger(logLevel, logFormat)
	if err != nil {
		return nil, err
	}

	layout := scheduler.NewLayout(workDir, sessionName)
	if err := layout.EnsureDirs(); err != nil {
		return nil, err
	}
	store := snapshot.NewStore(layout.SnapshotDir())

	opts, err := loadOptions(cmd, workDir, sessionName)
	if err != nil {
		return nil, err
	}

	var be backend.Backend
	if opts.DefaultBackend == "batch" {
		be, err = buildBatchBackend(cmd, log)
		if err != nil {
			return nil, err
		}
	}

	prn := printer.New(os.Stdout, printer.Plain, 40)
	registerer := prometheus.NewRegistry()

	sched, err := openOrReload(store, opts, be, prn, registerer, log)
	if err != nil {
		return nil, err
	}

	return &session{sched: sched, store: store, be: be, log: log, opts: opts, layout: layout}, nil
}

func openOrReload(store *snapshot.Store, opts options.Options, be backend.Backend, prn *printer.Printer, registerer prometheus.Registerer, log logr.Logger) (*scheduler.Scheduler, error) {
	if _, err := store.LoadSession(); err == nil {
		return scheduler.Reload(scheduler.ReloadDeps{
			Store:      store,
			Backend:    be,
			Printer:    prn,
			Registerer: registerer,
			Logger:     log,
		})
	}

	c := container.New(container.NewNameGenerator(1))
	return scheduler.New(scheduler.Config{
		Container:  c,
		Resolver:   resolver.New(c, opts.LocalMax),
		Printer:    prn,
		Store:      store,
		Options:    opts,
		Registerer: registerer,
		Logger:     log,
		Backend:    be,
	}), nil
}

// loadOptions sources .env from work-dir, then sets WorkDir and SessionName
// from the --work-dir and --session flags (those two flags win over
// BATCHCTL_WORKDIR and BATCHCTL_SESSION).
func loadOptions(cmd *cobra.Command, workDir, sessionName string) (options.Options, error) {
	o, err := options.NewDotEnvLoader(workDir + "/.env").Load()
	if err != nil {
		return options.Options{}, err
	}
	o.WorkDir = workDir
	o.SessionName = sessionName
	return *o, nil
}

func buildBatchBackend(cmd *cobra.Command, log logr.Logger) (backend.Backend, error) {
	namespace, err := cmd.Flags().GetString("batch-namespace")
	if err != nil {
		return nil, err
	}
	image, err := cmd.Flags().GetString("batch-image")
	if err != nil {
		return nil, err
	}
	kubeconfig, err := cmd.Flags().GetString("kubeconfig")
	if err != nil {
		return nil, err
	}

	clientset, err := k8sjob.NewClientset(k8sjob.ClientConfig{Kubeconfig: kubeconfig})
	if err != nil {
		return nil, err
	}
	return k8sjob.New(k8sjob.Config{
		Clientset: clientset,
		Namespace: namespace,
		Image:     image,
		Logger:    log,
	})
}
