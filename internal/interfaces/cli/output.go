package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// Exit codes of syncctl
const (
	ExitSuccess      = 0 // every requested stage finished
	ExitFailure      = 1 // a stage stopped on a fatal error
	ExitCommandError = 2 // bad arguments or configuration
)

// ExitError carries the exit code of a failed command
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Errors that are not an ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON document every command prints
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command
type ResponseError struct {
	Kind    integration.ErrorKind `json:"kind"`
	Message string                `json:"message"`
}

// Output writes command results as indented JSON
type Output struct {
	Writer io.Writer
}

// Success prints data with status ok
func (o *Output) Success(data any) error {
	return o.write(Response{Status: "ok", Data: data})
}

// Failure prints err next to the partial data produced before it
func (o *Output) Failure(data any, err error) error {
	return o.write(Response{
		Status: "error",
		Data:   data,
		Error: &ResponseError{
			Kind:    integration.ClassifyError(err),
			Message: err.Error(),
		},
	})
}

func (o *Output) write(resp Response) error {
	enc := json.NewEncoder(o.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
