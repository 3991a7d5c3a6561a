package narrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var exitCodePattern = regexp.MustCompile(`(?i)exit(?:ed with)? code[:= ]*(-?\d+)`)

var failureMarkers = []string{"fatal:", "error:", "command not found", "traceback"}

// outputKeys are the tool_result payload fields that may carry tool output.
var outputKeys = []string{"output", "result", "stderr", "text"}

// Failed reports whether a tool_result payload describes a failed call.
func Failed(payload map[string]any) bool {
	for _, k := range []string{"isError", "error"} {
		switch v := payload[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	for _, k := range []string{"exitCode", "exit_code"} {
		if code, ok := number(payload[k]); ok && code != 0 {
			return true
		}
	}
	for _, k := range outputKeys {
		if s := stringValue(payload[k]); s != "" && outputFailed(s) {
			return true
		}
	}
	return false
}

func outputFailed(out string) bool {
	for _, m := range exitCodePattern.FindAllStringSubmatch(out, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n != 0 {
			return true
		}
	}
	lower := strings.ToLower(out)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// stringValue renders v as text. Structured values are JSON encoded.
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
