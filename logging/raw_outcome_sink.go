package logging

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bundlercompat/compat-runner/runner"
	"github.com/bundlercompat/compat-runner/types"
)

const RawOutcomesLog = "raw_outcomes.jsonl"

// RawOutcomeRecord is one line of raw_outcomes.jsonl: everything a suite
// printed, before NOTE handling and aggregation.
type RawOutcomeRecord struct {
	Time     time.Time           `json:"time"`
	Platform string              `json:"platform"`
	Version  string              `json:"version"`
	File     string              `json:"file"`
	Outcomes []types.TestOutcome `json:"outcomes"`
}

// RawOutcomeSink records raw suite outcomes in the run directory. Suites with
// failures also get a readable log under failed/<platform>/.
type RawOutcomeSink struct {
	logger  *FileLogger
	workDir string
	now     func() time.Time
}

var _ runner.OutcomeSink = (*RawOutcomeSink)(nil)

// NewRawOutcomeSink creates a sink. File names are recorded relative to workDir.
func NewRawOutcomeSink(logger *FileLogger, workDir string) *RawOutcomeSink {
	return &RawOutcomeSink{logger: logger, workDir: workDir, now: time.Now}
}

func (s *RawOutcomeSink) Write(platform types.PlatformInfo, filename string, outcomes []types.TestOutcome) error {
	rel, err := filepath.Rel(s.workDir, filename)
	if err != nil {
		rel = filename
	}
	rel = filepath.ToSlash(rel)

	if outcomes == nil {
		outcomes = []types.TestOutcome{}
	}
	line, err := json.Marshal(RawOutcomeRecord{
		Time:     s.now().UTC(),
		Platform: platform.ID,
		Version:  platform.Version,
		File:     rel,
		Outcomes: outcomes,
	})
	if err != nil {
		return fmt.Errorf("encoding raw outcomes: %w", err)
	}

	writer, err := s.logger.getAsyncWriter(s.GetRawOutcomesFile())
	if err != nil {
		return err
	}
	if err := writer.Write(append(line, '\n')); err != nil {
		return err
	}

	return s.writeFailureLog(platform, rel, outcomes)
}

func (s *RawOutcomeSink) writeFailureLog(platform types.PlatformInfo, rel string, outcomes []types.TestOutcome) error {
	var b strings.Builder
	for _, outcome := range outcomes {
		if outcome.Passed() {
			continue
		}
		fmt.Fprintf(&b, "--- FAIL: %s\n", outcome.Description)
		fmt.Fprintf(&b, "    %s\n", outcome.Error.Message)
		if outcome.Error.Stack != "" {
			b.WriteString(indentText(outcome.Error.Stack, "        "))
		}
	}
	if b.Len() == 0 {
		return nil
	}

	header := fmt.Sprintf("%s on %s\n\n", rel, platform.String())
	path := filepath.Join(s.logger.GetFailedDir(), safeFilename(platform.ID), safeFilename(rel)+".log")
	writer, err := s.logger.getAsyncWriter(path)
	if err != nil {
		return err
	}
	return writer.Write([]byte(header + b.String()))
}

// GetRawOutcomesFile returns the path of the JSON lines log.
func (s *RawOutcomeSink) GetRawOutcomesFile() string {
	return filepath.Join(s.logger.GetDirectory(), RawOutcomesLog)
}

func indentText(text, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n") + "\n"
}
