package models

import "time"

// Snapshot is one emulator-internal VM snapshot row.
type Snapshot struct {
	ID     string `json:"id"`
	Tag    string `json:"tag"`
	VMSize string `json:"vmSize,omitempty"`
	Date   string `json:"date,omitempty"`
}

// SaveState is one on-disk save-state file.
type SaveState struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}
