package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/batchctl/batchctl/pkg/core/backend"
)

// fakeBackend is a minimal BATCH backend for the end-to-end scenarios:
// Submit always "succeeds" immediately (Status reports Done on the very
// next poll), and ExitCode is per-job overridable so a scenario can force a
// failure. Modeled on pkg/core/job's own fakeBackend test double.
type fakeBackend struct {
	mu          sync.Mutex
	ids         map[string]string // job name -> assigned id
	exitCodes   map[string]string // job name -> forced exit code
	successCode string
	next        int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ids:         map[string]string{},
		exitCodes:   map[string]string{},
		successCode: "0",
	}
}

func (f *fakeBackend) setExitCode(jobName, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCodes[jobName] = code
}

func (f *fakeBackend) WriteScript(dir string, spec backend.ScriptSpec) (string, error) {
	return dir + "/" + spec.Name + ".sh", nil
}

func (f *fakeBackend) Submit(_ context.Context, _ string, spec backend.ScriptSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("%s-%d", spec.Name, f.next)
	f.ids[spec.Name] = id
	return id, nil
}

func (f *fakeBackend) Cancel(_ context.Context, _ string) error { return nil }

func (f *fakeBackend) Status(_ context.Context, _ string) (backend.RunState, error) {
	return backend.Done, nil
}

func (f *fakeBackend) ExitCode(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, jid := range f.ids {
		if jid != id {
			continue
		}
		if code, ok := f.exitCodes[name]; ok {
			return code, nil
		}
	}
	return f.successCode, nil
}

func (f *fakeBackend) GetListenFunc() backend.ListenFunc { return nil }
func (f *fakeBackend) SuccessCode() string               { return f.successCode }
func (f *fakeBackend) Commands() []string                { return nil }
func (f *fakeBackend) Name() string                      { return "fake" }
