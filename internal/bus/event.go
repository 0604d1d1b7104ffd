// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import "time"

// EventType names a family of events.
type EventType string

const (
	// FileChanged is a change to a role file inside a button directory,
	// or to config.yaml (Payload.Path is then the settings file).
	FileChanged EventType = "file_changed"
	// ButtonDirectoriesChanged is a create/delete/move of a button directory.
	ButtonDirectoriesChanged EventType = "button_directories_changed"
	// ConfigChanged is a change to config.yaml.
	ConfigChanged EventType = "config_changed"
	// ImageRefresh asks for a button's image to be recomputed and pushed.
	ImageRefresh EventType = "image_refresh"
)

// Filesystem operations carried in Payload.Op.
const (
	OpCreated  = "created"
	OpModified = "modified"
	OpDeleted  = "deleted"
	OpMoved    = "moved"
)

// Payload is the data carried by an Event. Fields unused by a type are zero.
type Payload struct {
	Op       string
	Path     string
	SrcPath  string
	DestPath string
	ButtonID int
}

// Event is immutable once published.
type Event struct {
	Type      EventType
	Payload   Payload
	Timestamp time.Time
}

// Handler receives delivered events.
type Handler func(Event)
