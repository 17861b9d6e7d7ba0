package process

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/trayvisor/internal/env"
)

// Spec describes how to launch the supervised service. It is built once at
// startup and treated as immutable afterwards; use Clone before handing it to
// code that might retain it.
type Spec struct {
	Name       string   `json:"name" mapstructure:"name"`
	Executable string   `json:"executable" mapstructure:"executable"` // path to the binary; bare names are looked up in PATH
	Args       []string `json:"args" mapstructure:"args"`
	WorkDir    string   `json:"work_dir" mapstructure:"work_dir"`
	Env        []string `json:"env" mapstructure:"env"`           // KEY=VALUE overrides on top of the inherited environment
	LogPath    string   `json:"log_path" mapstructure:"log_path"` // append-only file receiving stdout and stderr
}

// Validate checks a complete service description.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.LogPath) == "" {
		return errors.New("log path is required")
	}
	return s.validateLaunch()
}

func (s Spec) validateLaunch() error {
	if strings.TrimSpace(s.Executable) == "" {
		return errors.New("executable is required")
	}
	for i, kv := range s.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	c := s
	if s.Args != nil {
		c.Args = append([]string(nil), s.Args...)
	}
	if s.Env != nil {
		c.Env = append([]string(nil), s.Env...)
	}
	return c
}

// DisplayName is Name, or the executable when no name was configured.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Executable
}

// Environ returns the child's environment. With no overrides it returns nil so
// the child inherits the launcher's environment unchanged.
func (s Spec) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	e := env.New()
	return e.Merge(s.Env)
}
