package scheduler

import (
	"os"
	"path/filepath"
)

// Layout is the on-disk directory set for one session:
// <work_dir>/<session_name>/{scripts,logs,output,snapshot,tmp}/.
type Layout struct {
	Root string // <work_dir>/<session_name>
}

// NewLayout builds a Layout rooted at filepath.Join(workDir, sessionName).
func NewLayout(workDir, sessionName string) Layout {
	return Layout{Root: filepath.Join(workDir, sessionName)}
}

func (l Layout) ScriptsDir() string   { return filepath.Join(l.Root, "scripts") }
func (l Layout) LogsDir() string      { return filepath.Join(l.Root, "logs") }
func (l Layout) OutputDir() string    { return filepath.Join(l.Root, "output") }
func (l Layout) SnapshotDir() string  { return filepath.Join(l.Root, "snapshot") }
func (l Layout) TmpDir() string       { return filepath.Join(l.Root, "tmp") }

// EnsureDirs creates every directory in the layout, idempotently.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.ScriptsDir(), l.LogsDir(), l.OutputDir(), l.SnapshotDir(), l.TmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
