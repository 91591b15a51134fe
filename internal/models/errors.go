package models

import "errors"

// Shared by the repositories and the in-memory stores used in tests.
var (
	ErrRunNotFound     = errors.New("ingest run not found")
	ErrRunFinalized    = errors.New("ingest run already finalized")
	ErrNoActiveVersion = errors.New("no active dataset version")
)
