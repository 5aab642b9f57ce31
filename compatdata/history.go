package compatdata

import (
	"fmt"
	"slices"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/bundlercompat/compat-runner/types"
)

// SupportStatus is the level of support of a platform at some version.
type SupportStatus string

const (
	StatusNone    SupportStatus = "none"
	StatusPartial SupportStatus = "partial"
	StatusFull    SupportStatus = "full"
)

func (s SupportStatus) rank() int {
	switch s {
	case StatusFull:
		return 2
	case StatusPartial:
		return 1
	default:
		return 0
	}
}

func (s SupportStatus) valid() bool {
	return s == StatusNone || s == StatusPartial || s == StatusFull
}

// HistoryEntry marks the version at which a platform entered a status.
type HistoryEntry struct {
	Version semver.Version
	Status  SupportStatus
	Notes   Notes
	Flags   []FlagSpec

	// label is the version text as it appears on disk, qualifier included.
	label string
	// synthetic entries were read from a "true" value.
	synthetic bool
}

func (e HistoryEntry) versionValue() VersionValue {
	if e.synthetic {
		return BoolVersion(true)
	}
	if e.label != "" {
		return StringVersion(e.label)
	}
	return StringVersion(e.Version.String())
}

func (e HistoryEntry) displayVersion() string {
	if e.label != "" && !e.synthetic {
		return e.label
	}
	return e.Version.String()
}

// ranged reports whether the version is an upper bound such as "<22".
func (e HistoryEntry) ranged() bool {
	return !e.synthetic && (strings.HasPrefix(e.label, QualifierBefore) || strings.HasPrefix(e.label, QualifierAtOrBefore))
}

func (e HistoryEntry) described() bool {
	return !e.Notes.IsZero() || len(e.Flags) > 0
}

func baselineEntry() HistoryEntry {
	return HistoryEntry{Version: baselineVersion, Status: StatusNone}
}

// SupportHistory is the chronological support timeline of one platform for
// one feature. Entries are ordered newest first and always end with the
// 0.0.0 "none" baseline.
type SupportHistory struct {
	entries []HistoryEntry
	unknown bool
}

// NewSupportHistory builds a history from a persisted statement. Array
// statements are walked from the last (oldest) element to the first.
func NewSupportHistory(stmt SupportStatement) (*SupportHistory, error) {
	h := &SupportHistory{}
	if len(stmt) == 1 && stmt[0].VersionAdded.IsNull() {
		h.unknown = true
	}

	var ascending []HistoryEntry
	current := baselineEntry()

	for i := len(stmt) - 1; i >= 0; i-- {
		e := stmt[i]

		if !e.VersionAdded.Truthy() {
			if current.Status == StatusNone && !current.described() {
				current.Notes = e.Notes.clone()
				current.Flags = slices.Clone(e.Flags)
			}
			continue
		}

		added, err := resolveVersion(e.VersionAdded, current.Version)
		if err != nil {
			return nil, err
		}
		added.Status = StatusFull
		if e.PartialImplementation {
			added.Status = StatusPartial
		}
		added.Notes = e.Notes.clone()
		added.Flags = slices.Clone(e.Flags)

		switch added.Version.Compare(current.Version) {
		case 0:
			if current.described() {
				return nil, fmt.Errorf("%w: %s", ErrNoteCollision, current.displayVersion())
			}
			current = added
		case 1:
			ascending = append(ascending, current)
			current = added
		default:
			return nil, fmt.Errorf("%w: version_added %s precedes %s", ErrInconsistentHistory, added.displayVersion(), current.displayVersion())
		}

		if e.VersionLast != nil {
			last, err := resolveVersion(*e.VersionLast, current.Version)
			if err != nil {
				return nil, err
			}
			if !last.Version.GT(current.Version) {
				return nil, fmt.Errorf("%w: version_last %s does not follow %s", ErrInconsistentHistory, last.displayVersion(), current.displayVersion())
			}
			last.Status = current.Status
			last.Notes = current.Notes.clone()
			last.Flags = slices.Clone(current.Flags)
			ascending = append(ascending, current)
			current = last
		}

		if e.VersionRemoved != nil {
			removed, err := resolveVersion(*e.VersionRemoved, current.Version)
			if err != nil {
				return nil, err
			}
			if !removed.Version.GT(current.Version) {
				return nil, fmt.Errorf("%w: version_removed %s does not follow %s", ErrInconsistentHistory, removed.displayVersion(), current.displayVersion())
			}
			removed.Status = StatusNone
			ascending = append(ascending, current)
			current = removed
		}
	}
	ascending = append(ascending, current)

	slices.Reverse(ascending)
	h.entries = ascending

	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func resolveVersion(v VersionValue, previous semver.Version) (HistoryEntry, error) {
	switch {
	case v.IsTrue():
		return HistoryEntry{Version: nextPatch(previous), synthetic: true}, nil
	case v.IsString():
		_, parsed, err := ParseVersionLabel(v.Label())
		if err != nil {
			return HistoryEntry{}, err
		}
		return HistoryEntry{Version: parsed, label: v.Label()}, nil
	default:
		return HistoryEntry{}, fmt.Errorf("%w: %s is not a version", ErrInconsistentHistory, v)
	}
}

// Entries returns a copy of the history, newest first.
func (h *SupportHistory) Entries() []HistoryEntry {
	return slices.Clone(h.entries)
}

// Unknown reports whether support has never been determined.
func (h *SupportHistory) Unknown() bool {
	return h.unknown
}

// Current returns the newest entry.
func (h *SupportHistory) Current() HistoryEntry {
	return h.entries[0]
}

// String renders one "version: status" line per entry, newest first.
func (h *SupportHistory) String() string {
	if h.unknown {
		return "unknown"
	}
	lines := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		line := fmt.Sprintf("%s: %s", e.displayVersion(), e.Status)
		if !e.Notes.IsZero() {
			notes, _ := marshalJSON(e.Notes.Items)
			line += " - " + string(notes)
		}
		if len(e.Flags) > 0 {
			flags, _ := marshalJSON(e.Flags)
			line += " flags " + string(flags)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ToStatement converts the history back to its persisted form. A new
// statement opens whenever the status changes to partial or full; it is
// closed with version_removed when support drops, and same-status
// continuations are recorded as version_last.
func (h *SupportHistory) ToStatement() SupportStatement {
	baseline := h.entries[len(h.entries)-1]
	if h.unknown {
		return SupportStatement{{
			VersionAdded: NullVersion(),
			Notes:        baseline.Notes,
			Flags:        baseline.Flags,
		}}
	}

	var ascending []SupportEntry
	if baseline.described() {
		ascending = append(ascending, SupportEntry{
			VersionAdded: BoolVersion(false),
			Notes:        baseline.Notes,
			Flags:        baseline.Flags,
		})
	}

	open := -1
	prev := StatusNone
	for i := len(h.entries) - 2; i >= 0; i-- {
		e := h.entries[i]
		v := e.versionValue()

		if e.Status == prev {
			if open >= 0 {
				ascending[open].VersionLast = &v
			}
			continue
		}

		if open >= 0 {
			ascending[open].VersionRemoved = &v
			open = -1
		}

		switch {
		case e.Status != StatusNone:
			ascending = append(ascending, SupportEntry{
				VersionAdded:          v,
				PartialImplementation: e.Status == StatusPartial,
				Notes:                 e.Notes,
				Flags:                 e.Flags,
			})
			open = len(ascending) - 1
		case e.described():
			ascending = append(ascending, SupportEntry{
				VersionAdded: BoolVersion(false),
				Notes:        e.Notes,
				Flags:        e.Flags,
			})
		}
		prev = e.Status
	}

	if len(ascending) == 0 {
		return Unsupported()
	}
	slices.Reverse(ascending)
	return ascending
}

func (h *SupportHistory) MarshalJSON() ([]byte, error) {
	return marshalJSON(h.ToStatement())
}

// MergeAction describes what a merge did to a history.
type MergeAction string

const (
	ActionUnchanged   MergeAction = "unchanged"
	ActionInitialized MergeAction = "initialized"
	ActionAdded       MergeAction = "added"
	ActionExtended    MergeAction = "extended"
	ActionUpdated     MergeAction = "updated"
)

// Observation is a single measured support status at a platform version.
type Observation struct {
	Version string
	Status  SupportStatus
	Notes   []string
	Flags   []FlagSpec
}

// ObservationFromResult maps a suite result to an observation.
func ObservationFromResult(r *types.SuiteResult) Observation {
	obs := Observation{
		Version: r.Platform.Version,
		Status:  StatusNone,
		Notes:   slices.Clone(r.Notes),
	}
	switch {
	case r.OK:
		obs.Status = StatusFull
	case r.Partial:
		obs.Status = StatusPartial
	}
	for _, f := range r.Flags {
		obs.Flags = append(obs.Flags, FlagSpec{Type: "runtime_flag", Name: f})
	}
	return obs
}

// Merge folds an observation into the history.
//
// An unknown history becomes "<version" on success and false on failure. An
// unchanged status refreshes the notes of the era and moves an existing
// version_last forward. A higher status opens a new era at the observed
// version and a lower status is a regression.
func (h *SupportHistory) Merge(obs Observation) (MergeAction, error) {
	if !obs.Status.valid() {
		return "", fmt.Errorf("invalid observed status %q", obs.Status)
	}
	qualifier, v, err := ParseVersionLabel(obs.Version)
	if err != nil {
		return "", err
	}
	if qualifier != "" {
		return "", fmt.Errorf("observed version %q must not be a range", obs.Version)
	}

	observed := HistoryEntry{
		Version: v,
		Status:  obs.Status,
		Notes:   NoteList(obs.Notes...),
		Flags:   slices.Clone(obs.Flags),
		label:   v.String(),
	}

	if h.unknown {
		h.unknown = false
		baseline := &h.entries[len(h.entries)-1]
		if obs.Status == StatusNone {
			baseline.Notes, baseline.Flags = observed.Notes, observed.Flags
			return ActionInitialized, h.validate()
		}
		baseline.Notes, baseline.Flags = Notes{}, nil
		observed.label = QualifierBefore + v.String()
		h.entries = slices.Insert(h.entries, 0, observed)
		return ActionInitialized, h.validate()
	}

	head := &h.entries[0]
	cmp := v.Compare(head.Version)

	if cmp < 0 {
		idx := h.eraIndex(v)
		era := h.entries[idx]
		if era.Status == obs.Status {
			return ActionUnchanged, nil
		}
		// "<X" only says support began somewhere before X.
		if idx > 0 && h.entries[idx-1].ranged() && h.entries[idx-1].Status == obs.Status {
			return ActionUnchanged, nil
		}
		return "", fmt.Errorf("%w: %s at %s, recorded %s since %s",
			ErrOutOfOrderObservation, obs.Status, v, era.Status, era.displayVersion())
	}

	if obs.Status.rank() < head.Status.rank() {
		return "", fmt.Errorf("%w: %s since %s, observed %s at %s",
			ErrRegression, head.Status, head.displayVersion(), obs.Status, v)
	}

	if obs.Status == head.Status {
		opener := h.eraOpener()
		if opener == 0 && head.synthetic && head.Status != StatusNone {
			head.Version = v
			head.label = QualifierBefore + v.String()
			head.synthetic = false
			head.Notes, head.Flags = observed.Notes, observed.Flags
			return ActionUpdated, h.validate()
		}
		era := &h.entries[opener]
		notesChanged := !era.Notes.Equal(observed.Notes) || !slices.Equal(era.Flags, observed.Flags)
		if notesChanged {
			era.Notes, era.Flags = observed.Notes, observed.Flags
		}
		if cmp > 0 && opener > 0 && head.Status != StatusNone {
			head.Version = v
			head.label = v.String()
			head.synthetic = false
			return ActionExtended, h.validate()
		}
		if !notesChanged {
			return ActionUnchanged, nil
		}
		return ActionUpdated, h.validate()
	}

	if cmp == 0 {
		if len(h.entries) == 1 {
			return "", fmt.Errorf("%w: cannot change the %s baseline", ErrInconsistentHistory, baselineVersionLabel)
		}
		head.Status = observed.Status
		head.Notes, head.Flags = observed.Notes, observed.Flags
		return ActionUpdated, h.validate()
	}

	h.entries = slices.Insert(h.entries, 0, observed)
	return ActionAdded, h.validate()
}

// eraIndex returns the index of the entry in effect at v.
func (h *SupportHistory) eraIndex(v semver.Version) int {
	for i, e := range h.entries {
		if e.Version.LTE(v) {
			return i
		}
	}
	return len(h.entries) - 1
}

// eraOpener returns the index of the oldest entry of the newest run of
// entries sharing the head's status.
func (h *SupportHistory) eraOpener() int {
	i := 0
	for i+1 < len(h.entries) && h.entries[i+1].Status == h.entries[0].Status {
		i++
	}
	return i
}

func (h *SupportHistory) validate() error {
	if len(h.entries) == 0 {
		return fmt.Errorf("%w: empty history", ErrInconsistentHistory)
	}
	baseline := h.entries[len(h.entries)-1]
	if !baseline.Version.Equals(baselineVersion) || baseline.Status != StatusNone {
		return fmt.Errorf("%w: history must start at %s with no support", ErrInconsistentHistory, baselineVersionLabel)
	}
	if h.unknown && len(h.entries) != 1 {
		return fmt.Errorf("%w: unknown support with recorded versions", ErrInconsistentHistory)
	}
	for i, e := range h.entries {
		if !e.Status.valid() {
			return fmt.Errorf("%w: invalid status %q", ErrInconsistentHistory, e.Status)
		}
		if i > 0 && !h.entries[i-1].Version.GT(e.Version) {
			return fmt.Errorf("%w: %s is not newer than %s", ErrInconsistentHistory,
				h.entries[i-1].displayVersion(), e.displayVersion())
		}
	}
	return nil
}
