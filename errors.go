package sdk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hostbridge/sdk/serve"
)

// ErrUnsupportedNetwork indicates a transport other than tcp or unix was
// requested. It is re-exported from the serve package so simple plugins
// can match it without importing serve.
var ErrUnsupportedNetwork = serve.ErrUnsupportedNetwork

// Error kinds categorize SDK errors.
const (
	// KindConfiguration represents errors in plugin configuration.
	KindConfiguration = "configuration"

	// KindTransport represents errors binding or registering against the
	// plugin's serving transport.
	KindTransport = "transport"
)

// SDKError is a structured error that wraps an underlying error with the
// operation that failed and a category. It supports errors.Is and
// errors.As through Unwrap.
//
// Example:
//
//	err := &SDKError{
//	    Op:   "sdk.NewServer",
//	    Kind: KindTransport,
//	    Err:  bindErr,
//	}
type SDKError struct {
	// Op is the operation that failed, e.g. "sdk.NewServer".
	Op string

	// Kind categorizes the error, e.g. KindTransport.
	Kind string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SDKError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sdk: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sdk: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *SDKError) Unwrap() error {
	return e.Err
}

// Is matches either the underlying error or another SDKError with the
// same Kind (and, when the target sets one, the same Op).
func (e *SDKError) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*SDKError); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// NewConfigurationError creates an SDKError with KindConfiguration.
func NewConfigurationError(op string, err error) *SDKError {
	return &SDKError{Op: op, Kind: KindConfiguration, Err: err}
}

// NewTransportError creates an SDKError with KindTransport.
func NewTransportError(op string, err error) *SDKError {
	return &SDKError{Op: op, Kind: KindTransport, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup errors are not silently
// dropped. If logger is nil, slog.Default() is used.
//
// Example:
//
//	defer sdk.CloseWithLog(conn, logger, "gRPC connection")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
