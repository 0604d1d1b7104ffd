// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

// Role is the purpose of a script inside a button directory.
type Role int

const (
	Action Role = iota
	Update
	Background
	Draw

	numRoles
)

// Roles lists every role in dispatch-table order.
var Roles = [numRoles]Role{Action, Update, Background, Draw}

var roleNames = [numRoles]string{
	Action:     "action",
	Update:     "update",
	Background: "background",
	Draw:       "draw",
}

type execMode int

const (
	modeTracked execMode = iota // detached, own process group, reported by the monitor
	modeSync                    // run to completion with a deadline
	modeStream                  // tracked, stdout parsed as image frames
)

var roleModes = [numRoles]execMode{
	Action:     modeTracked,
	Update:     modeSync,
	Background: modeTracked,
	Draw:       modeStream,
}

func (r Role) String() string {
	if r < 0 || r >= numRoles {
		return "unknown"
	}
	return roleNames[r]
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool { return r >= 0 && r < numRoles }

// ParseRole maps a role name to its Role.
func ParseRole(name string) (Role, bool) {
	for r, n := range roleNames {
		if n == name {
			return Role(r), true
		}
	}
	return 0, false
}
