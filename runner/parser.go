package runner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tidwall/gjson"

	"github.com/bundlercompat/compat-runner/types"
)

// ParseOutcome decodes one line emitted by a shim. Lines that are not a
// JSON object with a description are not outcomes.
func ParseOutcome(line string) (types.TestOutcome, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
		return types.TestOutcome{}, false
	}
	if desc := gjson.Get(line, "description"); desc.Type != gjson.String {
		return types.TestOutcome{}, false
	}
	var outcome types.TestOutcome
	if err := json.Unmarshal([]byte(line), &outcome); err != nil {
		return types.TestOutcome{}, false
	}
	return outcome, true
}

// FatalOutcomes returns the outcomes that invalidate their suite.
func FatalOutcomes(outcomes []types.TestOutcome) []types.TestOutcome {
	var fatal []types.TestOutcome
	for _, outcome := range outcomes {
		if outcome.Fatal {
			fatal = append(fatal, outcome)
		}
	}
	return fatal
}

// ParseOutcomes extracts every outcome line from a suite's stdout, in order.
// Other output is console noise from the suite and is logged at debug level.
func ParseOutcomes(output []byte, logger log.Logger) []types.TestOutcome {
	var outcomes []types.TestOutcome
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), defaultStdoutTailBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if outcome, ok := ParseOutcome(line); ok {
			outcomes = append(outcomes, outcome)
			continue
		}
		if strings.TrimSpace(line) != "" && logger != nil {
			logger.Debug("Ignoring suite output", "line", line)
		}
	}
	return outcomes
}
