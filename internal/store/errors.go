package store

import (
	"fmt"
	"time"

	"time-value-analyser/occupancy-archive/internal/model"
)

// StorageError carries the full context of a failed store operation.
type StorageError struct {
	Op        string // write, read, list, encode
	SourceID  string
	Class     model.PayloadClass
	Timestamp time.Time
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	ts := ""
	if !e.Timestamp.IsZero() {
		ts = " " + e.Timestamp.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("store %s %s/%s%s (%s): %v", e.Op, e.Class, e.SourceID, ts, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
