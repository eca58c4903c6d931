package options

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DotEnvLoader wraps a Loader, sourcing one or more ".env" files into the
// process environment via godotenv.Overload before delegating to the
// wrapped Loader's env reads.
type DotEnvLoader struct {
	inner    *Loader
	envFiles []string
}

// NewDotEnvLoader builds a DotEnvLoader over the given .env file paths.
// Missing files are skipped, not an error: production deployments
// usually carry no .env at all.
func NewDotEnvLoader(envFiles ...string) *DotEnvLoader {
	return &DotEnvLoader{inner: &Loader{env: OSEnvLoader{}}, envFiles: envFiles}
}

// EnvFileError wraps a failure loading a specific .env file.
type EnvFileError struct {
	Path string
	Err  error
}

func (e *EnvFileError) Error() string {
	return fmt.Sprintf("options: loading env file %q: %v", e.Path, e.Err)
}

func (e *EnvFileError) Unwrap() error { return e.Err }

func (d *DotEnvLoader) Load() (*Options, error) { return d.LoadFromEnv() }

func (d *DotEnvLoader) Validate(o *Options) error { return d.inner.Validate(o) }

func (d *DotEnvLoader) LoadFromEnv() (*Options, error) {
	var existing []string
	for _, f := range d.envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Overload(existing...); err != nil {
			return nil, &EnvFileError{Path: existing[0], Err: err}
		}
	}
	return d.inner.LoadFromEnv()
}

// LoadWithEnvFile is a convenience constructor loading Options after
// sourcing a single named .env file.
func LoadWithEnvFile(path string) (*Options, error) {
	return NewDotEnvLoader(path).Load()
}

// LoadFromCurrentDir sources ".env" from the current working directory,
// if present, before reading process environment.
func LoadFromCurrentDir() (*Options, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return NewDotEnvLoader(filepath.Join(wd, ".env")).Load()
}
