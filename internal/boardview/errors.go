package boardview

import (
	"errors"
	"fmt"
)

// ErrBadMagic is returned when no accepted magic marker is found at its
// fixed offset, or the file is too short to hold one.
var ErrBadMagic = errors.New("boardview: unrecognized or missing magic marker")

// ParseError reports a structural violation at a byte offset inside a file
// whose format was recognized. A ParseError aborts only the affected
// board's ingest.
type ParseError struct {
	Format Format
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("boardview: %s parse error at offset 0x%x: %s", e.Format, e.Offset, e.Reason)
}

func parseErr(f Format, offset int64, reason string) error {
	return &ParseError{Format: f, Offset: offset, Reason: reason}
}
