// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// Interpreter maps a script file extension to the command that runs it.
type Interpreter struct {
	Ext     string
	Command []string
}

// DefaultInterpreters is the resolution order for role scripts; the first
// extension present in a button directory wins.
var DefaultInterpreters = []Interpreter{
	{Ext: "sh", Command: []string{"bash"}},
	{Ext: "py", Command: []string{"python3"}},
	{Ext: "js", Command: []string{"node"}},
}

// LookupInterpreter finds the interpreter for ext in list.
func LookupInterpreter(list []Interpreter, ext string) (Interpreter, bool) {
	for _, in := range list {
		if in.Ext == ext {
			return in, true
		}
	}
	return Interpreter{}, false
}
