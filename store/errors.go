package store

import (
	"errors"
	"fmt"

	"github.com/pointlake/pointlake/model"
)

// ErrNodeNotFound is returned when reading a node that has no page on disk.
//
// Implementations return errors satisfying errors.Is(err, ErrNodeNotFound).
var ErrNodeNotFound = errors.New("node not found")

// CorruptNodeError indicates a page that exists but cannot be decoded:
// checksum mismatch, truncated payload, or an unknown format version.
//
// A corrupt node is fatal for that node. The engine refuses to serve
// queries that touch it rather than return wrong results.
type CorruptNodeError struct {
	Cell   model.CellID
	Reason string
	cause  error
}

func (e *CorruptNodeError) Error() string {
	return fmt.Sprintf("corrupt node %s: %s", e.Cell, e.Reason)
}

func (e *CorruptNodeError) Unwrap() error { return e.cause }
