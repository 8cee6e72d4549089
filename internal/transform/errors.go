package transform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnexpectedShape is returned when a raw payload is not the container
// type a transform expects.
var ErrUnexpectedShape = errors.New("unexpected payload shape")

// MissingFieldError reports a raw entry that cannot be attributed to a
// place or carries no count field at all. It is never recovered: a count
// assigned to the wrong place is worse than a failed load.
type MissingFieldError struct {
	SourceID string
	Index    int
	Fields   []string // alternatives, any one would have satisfied the gate
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: entry %d has none of the fields %s", e.SourceID, e.Index, strings.Join(e.Fields, ", "))
}

// InconsistentDirectoryError reports two metadata entries that normalize to
// the same place_id but name different places.
type InconsistentDirectoryError struct {
	SourceID string
	PlaceID  string
	Names    [2]string
}

func (e *InconsistentDirectoryError) Error() string {
	return fmt.Sprintf("%s: place_id %q used by %q and %q", e.SourceID, e.PlaceID, e.Names[0], e.Names[1])
}
