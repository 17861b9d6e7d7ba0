package control

import (
	"errors"
	"fmt"
)

// ErrOpenEndpoint reports that the default URL handler could not be launched.
var ErrOpenEndpoint = errors.New("open endpoint failed")

type OpenEndpointError struct {
	URL string
	Err error
}

func (e *OpenEndpointError) Error() string {
	return fmt.Sprintf("open %s: %v", e.URL, e.Err)
}

func (e *OpenEndpointError) Unwrap() error { return e.Err }

func (e *OpenEndpointError) Is(target error) bool { return target == ErrOpenEndpoint }
