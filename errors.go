package datatables

import (
	"errors"
	"fmt"
)

// ErrAlreadyGenerated is returned by Generate when the instance already
// augmented its query builder.
var ErrAlreadyGenerated = errors.New("datatables: Generate already called")

// ConfigError reports an invalid adapter configuration. It is returned by
// the fluent setter that introduced it (through Err) and by Generate.
type ConfigError struct {
	Op  string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("datatables: %s: %s", e.Op, e.Msg)
}

// RequestError reports a malformed grid request parameter.
type RequestError struct {
	Param string
	Value string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request parameter %s=%q: %v", e.Param, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid request parameter %s=%q", e.Param, e.Value)
}

func (e *RequestError) Unwrap() error { return e.Err }
