// Package types contains shared types used across the compat runner
package types

import "fmt"

// PlatformKind distinguishes platforms that execute JavaScript directly from
// platforms that transform it for a browser.
type PlatformKind string

// String implements the Stringer interface for PlatformKind
func (k PlatformKind) String() string {
	return string(k)
}

// PlatformKind enum values
const (
	PlatformKindRuntime PlatformKind = "runtime"
	PlatformKindBundler PlatformKind = "bundler"
)

// IsValid reports whether k is one of the known kinds.
func (k PlatformKind) IsValid() bool {
	return k == PlatformKindRuntime || k == PlatformKindBundler
}

// PlatformInfo identifies the platform a suite ran against.
type PlatformInfo struct {
	ID      string       `json:"id"`
	Kind    PlatformKind `json:"kind"`
	Name    string       `json:"name"`
	Version string       `json:"version"`
}

// String returns "id@version", or just the id when no version is known yet.
func (p PlatformInfo) String() string {
	if p.Version == "" {
		return p.ID
	}
	return fmt.Sprintf("%s@%s", p.ID, p.Version)
}
