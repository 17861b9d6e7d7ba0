package process

import (
	"errors"
	"fmt"
)

// ErrSpawn reports that the executable could not be started.
var ErrSpawn = errors.New("spawn failed")

// SpawnError wraps the underlying cause with the executable path.
// It matches ErrSpawn via errors.Is.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
