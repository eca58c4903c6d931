// Package snapshot implements crash-resilient session persistence:
// per-job config files plus one session-level file, dirty-tracked so only
// changed configs are rewritten. Writes are atomic (temp file then
// rename) and every overwrite keeps a .bak sibling of the prior version.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/batchctl/batchctl/pkg/core/job"
)

// RuntimeMajorVersion is compared against every loaded document's own
// field of the same name; a mismatch fails the reload fast.
const RuntimeMajorVersion = 1

const (
	sessionFileName = "JobHandlerConfig.yaml"
	backupSuffix    = ".bak"
	tmpSuffix       = ".tmp"
)

// SessionConfig is the serializable half of the session's configuration:
// directory layout, caps, feature flags, and the ordered list of per-job
// snapshot paths that is authoritative for reload order.
type SessionConfig struct {
	RuntimeMajorVersion int `yaml:"runtime_major_version"`

	Name          string `yaml:"name"`
	WorkDir       string `yaml:"work_dir"`
	DefaultBackend string `yaml:"default_backend"`

	LocalMax     int  `yaml:"local_max"`
	LocalDynamic bool `yaml:"local_dynamic"`
	RunMax       int  `yaml:"run_max"`

	Listens          bool `yaml:"listens"`
	DoSnapshot       bool `yaml:"do_snapshot"`
	OutputMaxAttempts int `yaml:"output_max_attempts"`

	JobConfigPaths []string `yaml:"job_config_paths"`
}

// jobDocument is the on-disk shape of a per-job snapshot: the runtime
// version tag wraps the job's own Config.
type jobDocument struct {
	RuntimeMajorVersion int        `yaml:"runtime_major_version"`
	Config              job.Config `yaml:"config"`
}

// Store reads and writes snapshot files under <work_dir>/<session>/snapshot/.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at snapshotDir (the caller is
// responsible for constructing <work_dir>/<session_name>/snapshot).
func NewStore(snapshotDir string) *Store {
	return &Store{dir: snapshotDir}
}

func (s *Store) sessionPath() string { return filepath.Join(s.dir, sessionFileName) }
func (s *Store) jobPath(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// SaveSession writes the session-level config, atomically, with a .bak
// sibling kept from the prior write.
func (s *Store) SaveSession(cfg SessionConfig) error {
	cfg.RuntimeMajorVersion = RuntimeMajorVersion
	return writeAtomic(s.sessionPath(), cfg)
}

// LoadSession reads the session-level config, failing fast on a runtime
// major version mismatch.
func (s *Store) LoadSession() (SessionConfig, error) {
	var cfg SessionConfig
	if err := readYAML(s.sessionPath(), &cfg); err != nil {
		return cfg, err
	}
	if cfg.RuntimeMajorVersion != RuntimeMajorVersion {
		return cfg, fmt.Errorf("snapshot: session config runtime_major_version %d is incompatible with %d",
			cfg.RuntimeMajorVersion, RuntimeMajorVersion)
	}
	return cfg, nil
}

// SaveJob writes j's Config to its per-job snapshot file, but only if j
// is dirty, and clears the dirty flag on success.
func (s *Store) SaveJob(j *job.Job) error {
	if !j.Dirty() {
		return nil
	}
	doc := jobDocument{RuntimeMajorVersion: RuntimeMajorVersion, Config: j.Snapshot()}
	if err := writeAtomic(s.jobPath(j.Name()), doc); err != nil {
		return err
	}
	j.MarkClean()
	return nil
}

// LoadJobConfig reads a per-job Config by its snapshot file name (as
// recorded in SessionConfig.JobConfigPaths).
func (s *Store) LoadJobConfig(path string) (job.Config, error) {
	var doc jobDocument
	if err := readYAML(path, &doc); err != nil {
		return job.Config{}, err
	}
	if doc.RuntimeMajorVersion != RuntimeMajorVersion {
		return job.Config{}, fmt.Errorf("snapshot: job config %s runtime_major_version %d is incompatible with %d",
			path, doc.RuntimeMajorVersion, RuntimeMajorVersion)
	}
	return doc.Config, nil
}

// JobPath returns the canonical per-job snapshot path for name, for
// callers building a fresh JobConfigPaths list.
func (s *Store) JobPath(name string) string { return s.jobPath(name) }

func writeAtomic(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", path, err)
	}

	if _, err := os.Stat(path); err == nil {
		_ = copyFile(path, path+backupSuffix)
	}

	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: rename temp file for %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return nil
}
