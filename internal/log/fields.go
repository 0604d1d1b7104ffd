// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldButtonID  = "button_id"
	FieldKey       = "key"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldRole      = "role"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldScript    = "script"

	// Device fields
	FieldDevice   = "device"
	FieldSerial   = "serial"
	FieldKeyCount = "key_count"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath     = "path"
	FieldDestPath = "dest_path"
	FieldDir      = "dir"
)
