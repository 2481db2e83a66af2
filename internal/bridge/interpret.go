package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxQuotedOutput caps how much raw stdout is quoted in an error message.
const maxQuotedOutput = 512

// Interpret extracts the record array from the worker's stdout.
//
// The worker may print log noise around the payload, so the text between
// the first '[' and the last ']' is tried first; without such a pair the
// whole trimmed text is decoded. Empty output and "null" mean no records.
//
// A decode failure is tolerated when stderr has content: the caller gets an
// empty slice and stderr explains what happened. Otherwise it is a
// KindMalformedOutput error.
//
// Log lines that themselves contain brackets on both sides of the payload
// defeat the bracket scan. That is a known limitation of the worker's
// output contract.
func Interpret(stdout, stderr string) ([]json.RawMessage, error) {
	records, _, err := interpret(stdout, stderr)
	return records, err
}

// interpret is Interpret that also reports whether a decode failure was
// tolerated because of stderr content.
func interpret(stdout, stderr string) ([]json.RawMessage, bool, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" || trimmed == "null" {
		return []json.RawMessage{}, false, nil
	}

	candidate := trimmed
	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start != -1 && end > start {
		candidate = trimmed[start : end+1]
	}

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &records); err != nil {
		if strings.TrimSpace(stderr) != "" {
			return []json.RawMessage{}, true, nil
		}
		return nil, false, &Error{
			Kind:    KindMalformedOutput,
			Message: fmt.Sprintf("failed to parse worker output: %v (output: %q)", err, truncate(trimmed, maxQuotedOutput)),
			Output:  stdout,
			Err:     err,
		}
	}

	if records == nil {
		records = []json.RawMessage{}
	}
	return records, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
