// Package deps walks the dependency graph of a set of PE files.
package deps

import (
	"fmt"
	"strings"
)

// DllFlags classifies a dependency once the walk is complete.
type DllFlags uint8

// Dependency flags.
const (
	IsDelayed DllFlags = 1 << iota
	IsWindows
	IsMsvcrt
	HasError
)

var flagNames = []string{"IsDelayed", "IsWindows", "IsMsvcrt", "HasError"}

func (f DllFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

// MarshalText renders the flag names.
func (f DllFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Dependency is one node of the dependency graph. Name is the resolved
// full path, or the referenced name when it could not be found.
type Dependency struct {
	Name        string   `json:"name"`
	Refs        int      `json:"refs"`
	DelayedRefs int      `json:"delayed_refs"`
	Flags       DllFlags `json:"flags"`
	Found       bool     `json:"found"`
}

// Delayed reports whether every reference to the dependency is a delay-load.
func (d *Dependency) Delayed() bool { return d.Flags&IsDelayed != 0 }

// Failed reports whether the dependency could not be found or parsed.
func (d *Dependency) Failed() bool { return d.Flags&HasError != 0 }

func (d *Dependency) String() string {
	return fmt.Sprintf("%s (%d/%d) %s", d.Name, d.Refs, d.DelayedRefs, d.Flags)
}

// Key returns the case-insensitive identity of a dependency name.
func Key(name string) string {
	return strings.ToLower(name)
}

// Edge is one outgoing reference of a parsed image.
type Edge struct {
	Name    string
	Delayed bool
}
