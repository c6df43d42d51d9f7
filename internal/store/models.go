package store

import "time"

// TransferRecord records a single download-and-extract run
type TransferRecord struct {
	ID               int64
	TransferID       string // opaque unique ID, shared with live progress events
	AssetName        string
	URL              string
	DestPath         string
	ExtractDir       string // empty when extraction was not requested
	Status           string // "running", "done", "failed"
	Reason           string // failure category, empty unless failed
	BytesWritten     int64
	EntriesExtracted int64
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       time.Time
}
