package compatdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

type versionKind int

const (
	versionNull versionKind = iota
	versionFalse
	versionTrue
	versionString
)

// VersionValue is the union used by version_added, version_removed and
// version_last: a version string, true, false or null.
type VersionValue struct {
	kind versionKind
	str  string
}

// NullVersion is the "support unknown" value.
func NullVersion() VersionValue { return VersionValue{kind: versionNull} }

// BoolVersion is true ("some unknown version") or false ("unsupported").
func BoolVersion(b bool) VersionValue {
	if b {
		return VersionValue{kind: versionTrue}
	}
	return VersionValue{kind: versionFalse}
}

// StringVersion wraps a version label such as "1.2.3" or "<22.0.0".
func StringVersion(s string) VersionValue {
	return VersionValue{kind: versionString, str: s}
}

func (v VersionValue) IsNull() bool   { return v.kind == versionNull }
func (v VersionValue) IsTrue() bool   { return v.kind == versionTrue }
func (v VersionValue) IsFalse() bool  { return v.kind == versionFalse }
func (v VersionValue) IsString() bool { return v.kind == versionString }

// Truthy reports whether the value claims support (a version or true).
func (v VersionValue) Truthy() bool {
	return v.kind == versionTrue || v.kind == versionString
}

// Label returns the version string, or "" for non-string values.
func (v VersionValue) Label() string {
	return v.str
}

func (v VersionValue) String() string {
	switch v.kind {
	case versionTrue:
		return "true"
	case versionFalse:
		return "false"
	case versionString:
		return v.str
	default:
		return "null"
	}
}

func (v VersionValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case versionTrue:
		return []byte("true"), nil
	case versionFalse:
		return []byte("false"), nil
	case versionString:
		return marshalJSON(v.str)
	default:
		return []byte("null"), nil
	}
}

func (v *VersionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = NullVersion()
	case bytes.Equal(data, []byte("true")):
		*v = BoolVersion(true)
	case bytes.Equal(data, []byte("false")):
		*v = BoolVersion(false)
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("version must be a string, boolean or null: %w", err)
		}
		*v = StringVersion(s)
	}
	return nil
}

// Notes holds the notes of a statement. On disk it is either a single string
// or an array of strings, and it is written back in the shape it was read in.
type Notes struct {
	Items []string
	// Scalar is set when the notes were read as a bare string.
	Scalar bool
}

// NoteList builds array-shaped notes.
func NoteList(items ...string) Notes {
	if len(items) == 0 {
		return Notes{}
	}
	return Notes{Items: slices.Clone(items)}
}

func (n Notes) IsZero() bool { return len(n.Items) == 0 }

// Equal compares the note text and ignores the shape.
func (n Notes) Equal(other Notes) bool { return slices.Equal(n.Items, other.Items) }

func (n Notes) clone() Notes {
	return Notes{Items: slices.Clone(n.Items), Scalar: n.Scalar}
}

func (n Notes) MarshalJSON() ([]byte, error) {
	if n.Scalar && len(n.Items) == 1 {
		return marshalJSON(n.Items[0])
	}
	if n.Items == nil {
		return []byte("[]"), nil
	}
	return marshalJSON(n.Items)
}

func (n *Notes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Notes{Items: []string{s}, Scalar: true}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("notes must be a string or an array of strings: %w", err)
	}
	*n = Notes{Items: list}
	return nil
}

// FlagSpec describes a flag or preference required for support.
type FlagSpec struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	ValueToSet string `json:"value_to_set,omitempty"`
}

// SupportEntry is one persisted support statement for a platform.
type SupportEntry struct {
	VersionAdded          VersionValue  `json:"version_added"`
	VersionRemoved        *VersionValue `json:"version_removed,omitempty"`
	VersionLast           *VersionValue `json:"version_last,omitempty"`
	PartialImplementation bool          `json:"partial_implementation,omitempty"`
	Notes                 Notes         `json:"notes,omitzero"`
	Flags                 []FlagSpec    `json:"flags,omitempty"`
}

// SupportStatement is either a single SupportEntry or an array of them, most
// recent era first.
type SupportStatement []SupportEntry

// Unsupported is the bare {"version_added": false} statement.
func Unsupported() SupportStatement {
	return SupportStatement{{VersionAdded: BoolVersion(false)}}
}

// Unknown is the {"version_added": null} statement.
func Unknown() SupportStatement {
	return SupportStatement{{VersionAdded: NullVersion()}}
}

func (s SupportStatement) MarshalJSON() ([]byte, error) {
	switch len(s) {
	case 0:
		return marshalJSON(Unsupported()[0])
	case 1:
		return marshalJSON(s[0])
	default:
		return marshalJSON([]SupportEntry(s))
	}
}

func (s *SupportStatement) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	switch data[0] {
	case '{':
		var entry SupportEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		*s = SupportStatement{entry}
	case '[':
		var entries []SupportEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*s = entries
	default:
		return errors.New("support statement must be an object or an array")
	}
	return nil
}

// Summary renders the statement as compact JSON for diff output.
func (s SupportStatement) Summary() string {
	if s == nil {
		return "(none)"
	}
	out, err := marshalJSON(s)
	if err != nil {
		return fmt.Sprintf("(unprintable: %v)", err)
	}
	return string(out)
}

// marshalJSON encodes without HTML escaping so that ranged versions such as
// "<1.2.3" are written verbatim.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
