package pointlake

import (
	"errors"
	"fmt"

	"github.com/pointlake/pointlake/octree"
	"github.com/pointlake/pointlake/store"
)

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("index closed")

	// ErrNotFound is returned when an index, node or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIndexExists is returned by Create when the target directory
	// already holds an index.
	ErrIndexExists = errors.New("index already exists")
)

// ErrCorruptPage indicates a node page that failed validation. The
// underlying store error can be accessed via errors.Unwrap.
type ErrCorruptPage struct {
	Cell   string
	Reason string
	cause  error
}

func (e *ErrCorruptPage) Error() string {
	return fmt.Sprintf("corrupt page for node %s: %s", e.Cell, e.Reason)
}

func (e *ErrCorruptPage) Unwrap() error { return e.cause }

// translateError maps internal errors onto the package's public error
// surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, octree.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, store.ErrNodeNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var corrupt *store.CorruptNodeError
	if errors.As(err, &corrupt) {
		return &ErrCorruptPage{Cell: corrupt.Cell.String(), Reason: corrupt.Reason, cause: err}
	}
	return err
}
