package caracal

import (
	"github.com/pkg/errors"
)

// Error kinds. Every error returned by the engine matches exactly one of these
// with errors.Is.
var (
	// ErrDecode reports unreadable, corrupt or unsupported input bytes.
	ErrDecode = errors.New("caracal: decode failed")
	// ErrEncode reports an encoder failure or an empty encoder output.
	ErrEncode = errors.New("caracal: encode failed")
	// ErrDimensionMismatch reports metrics invoked on rasters of different sizes.
	ErrDimensionMismatch = errors.New("caracal: dimension mismatch")
	// ErrPrecondition reports invalid dimensions, buffers or profile values.
	ErrPrecondition = errors.New("caracal: precondition violated")
)

// OpError records the operation that failed, its error kind and the cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Kind.Error() + ": " + e.Op
	}
	return e.Kind.Error() + ": " + e.Op + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

func preconditionf(op, format string, args ...any) error {
	return opError(op, ErrPrecondition, errors.Errorf(format, args...))
}

// asKind returns err unchanged when it already matches kind, otherwise
// wraps it as an OpError of that kind.
func asKind(op string, kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return opError(op, kind, err)
}
