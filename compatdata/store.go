package compatdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/bundlercompat/compat-runner/types"
)

const compatKey = "__compat"

// DefaultDataDir is where <group>.json documents live, relative to the workdir.
const DefaultDataDir = "src/content/bundler-compat-data"

// prettyOptions re-indents documents the way JSON.stringify(doc, null, 2)
// does. A width of 1 keeps every array element on its own line.
var prettyOptions = &pretty.Options{
	Width:    1,
	Prefix:   "",
	Indent:   "  ",
	SortKeys: false,
}

// StoreConfig configures a Store.
type StoreConfig struct {
	DataDir string
	DryRun  bool
	Log     log.Logger
}

type document struct {
	path  string
	raw   []byte
	dirty bool
}

// Change is the effect of applying one suite result.
type Change struct {
	Group    string
	Feature  string
	Platform string
	Action   MergeAction
	Before   string
	After    string
}

// Description names the support statement the change applies to.
func (c Change) Description() string {
	name := c.Group
	if c.Feature != "" {
		name += "/" + c.Feature
	}
	return fmt.Sprintf("%s [%s]", name, c.Platform)
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Description(), c.Before, c.After)
}

// Changed reports whether the persisted statement differs.
func (c Change) Changed() bool {
	return c.Before != c.After
}

// Store loads compat data documents on demand, applies suite results to
// them and writes them back preserving key order.
type Store struct {
	dataDir string
	dryRun  bool
	log     log.Logger

	docs  map[string]*document
	order []string
	diff  []string
}

// NewStore creates a Store rooted at cfg.DataDir.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided to compat data store, using default")
	}
	return &Store{
		dataDir: cfg.DataDir,
		dryRun:  cfg.DryRun,
		log:     cfg.Log,
		docs:    make(map[string]*document),
	}
}

// Apply merges one suite result into its support statement.
func (s *Store) Apply(result *types.SuiteResult) (Change, error) {
	change := Change{
		Group:    result.CompatGroup,
		Feature:  result.FeaturePath(),
		Platform: result.Platform.ID,
	}

	doc, err := s.load(result.CompatGroup)
	if err != nil {
		return change, err
	}

	base, err := featurePath(doc.raw, result.CompatSubpath)
	if err != nil {
		return change, fmt.Errorf("%s (%s): %w", result.Filename, doc.path, err)
	}
	supportPath := joinPath(base, compatKey, "support", escapePath(result.Platform.ID))

	var before SupportStatement
	current := Unknown()
	if existing := gjson.GetBytes(doc.raw, supportPath); existing.Exists() {
		if err := json.Unmarshal([]byte(existing.Raw), &before); err != nil {
			return change, fmt.Errorf("decoding %s support for %s: %w", result.Platform.ID, change.Feature, err)
		}
		if len(before) > 0 {
			current = before
		}
	}

	history, err := NewSupportHistory(current)
	if err != nil {
		return change, fmt.Errorf("%s [%s]: %w", change.Description(), doc.path, err)
	}
	action, err := history.Merge(ObservationFromResult(result))
	if err != nil {
		return change, fmt.Errorf("%s: %w", change.Description(), err)
	}

	after, err := marshalJSON(history.ToStatement())
	if err != nil {
		return change, err
	}
	change.Action = action
	change.Before = before.Summary()
	change.After = string(after)

	if !change.Changed() {
		s.log.Debug("Support statement unchanged", "feature", change.Description(), "action", action)
		return change, nil
	}

	updated, err := sjson.SetRawBytes(doc.raw, supportPath, after)
	if err != nil {
		return change, fmt.Errorf("updating %s: %w", doc.path, err)
	}
	doc.raw = updated
	doc.dirty = true

	if s.dryRun {
		s.diff = append(s.diff, change.String())
	}
	s.log.Debug("Support statement updated", "feature", change.Description(), "action", action)
	return change, nil
}

// Diff returns the change lines collected in dry-run mode.
func (s *Store) Diff() []string {
	return s.diff
}

// Flush writes every modified document. It is a no-op in dry-run mode.
func (s *Store) Flush() error {
	if s.dryRun {
		return nil
	}
	for _, group := range s.order {
		doc := s.docs[group]
		if !doc.dirty {
			continue
		}
		out := pretty.PrettyOptions(doc.raw, prettyOptions)
		if err := os.WriteFile(doc.path, out, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", doc.path, err)
		}
		doc.dirty = false
		s.log.Info("Wrote compat data", "path", doc.path)
	}
	return nil
}

func (s *Store) load(group string) (*document, error) {
	if doc, ok := s.docs[group]; ok {
		return doc, nil
	}
	if group == "" {
		return nil, fmt.Errorf("%w: suite is not inside a compat group directory", ErrFeatureNotFound)
	}

	path := filepath.Join(s.dataDir, filepath.FromSlash(group)+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading compat data: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("compat data %s is not valid JSON", path)
	}

	doc := &document{path: path, raw: raw}
	s.docs[group] = doc
	s.order = append(s.order, group)
	s.log.Debug("Loaded compat data", "group", group, "path", path)
	return doc, nil
}

// featurePath unwraps single-key wrapper objects until a node carrying
// __compat is found, then descends through subpath. It returns the gjson
// path of the feature node.
func featurePath(raw []byte, subpath []string) (string, error) {
	node := gjson.ParseBytes(raw)
	var parts []string

	for !node.Get(compatKey).Exists() {
		if !node.IsObject() {
			return "", ErrAmbiguousRoot
		}
		var keys []string
		node.ForEach(func(key, _ gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		if len(keys) != 1 {
			return "", fmt.Errorf("%w: found %d top-level keys", ErrAmbiguousRoot, len(keys))
		}
		parts = append(parts, escapePath(keys[0]))
		node = node.Get(escapePath(keys[0]))
	}

	for _, name := range subpath {
		node = node.Get(escapePath(name))
		if !node.IsObject() {
			return "", fmt.Errorf("%w: %s", ErrFeatureNotFound, strings.Join(subpath, "."))
		}
		parts = append(parts, escapePath(name))
	}

	if !node.Get(compatKey).IsObject() {
		return "", fmt.Errorf("%w: %s has no %s node", ErrFeatureNotFound, strings.Join(subpath, "."), compatKey)
	}
	return strings.Join(parts, "."), nil
}

func joinPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}

// escapePath escapes characters with meaning in gjson/sjson paths.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
