//go:build windows

package lock

import (
	"errors"
	"os"
)

func acquire(path string) (*os.File, error) {
	// #nosec G304 -- lock path comes from local configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}
	return f, nil
}
