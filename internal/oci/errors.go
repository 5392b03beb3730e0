package oci

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCLINotFound indicates the oci binary is not on PATH.
var ErrCLINotFound = errors.New("oci: CLI not found on PATH")

// ErrTooManyPages indicates a list call still had pages left after maxPages.
var ErrTooManyPages = errors.New("oci: page limit reached")

// ProviderError wraps a failed CLI call.
type ProviderError struct {
	Args []string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("oci: %s: %s", strings.Join(command(e.Args), " "), e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a CLI call exceeded its time limit.
type TimeoutError struct {
	Args     []string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("oci: %s: timed out after %s", strings.Join(command(e.Args), " "), e.Duration)
}

// DecodeError indicates the CLI returned output that is not the expected JSON.
type DecodeError struct {
	Args []string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("oci: %s: decoding output: %s", strings.Join(command(e.Args), " "), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// command returns the leading subcommand words of args, without flags or ids.
func command(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i]
		}
	}
	return args
}
