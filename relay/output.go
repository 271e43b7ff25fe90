package relay

import (
	"regexp"
	"strings"
)

var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// FilterNoise drops every line containing one of markers.
func FilterNoise(s string, markers []string) string {
	if s == "" || len(markers) == 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if containsAny(line, markers) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ReconstructOutput rebuilds what a redirected command meant to write from the interpreter's stdout.
// Only lines starting with promptMarker carry output; banner lines are skipped. The marker and one matching
// pair of surrounding quotes are removed from each line. The result always ends with a newline.
//
// This is text scraping of the interpreter's transcript and is the only place that knows its format.
func ReconstructOutput(stdout, promptMarker string, bannerMarkers []string) string {
	var payload []string
	for _, line := range strings.Split(stdout, "\n") {
		if containsAny(line, bannerMarkers) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, promptMarker) {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(trimmed, promptMarker))
		payload = append(payload, unquote(content))
	}
	return strings.Join(payload, "\n") + "\n"
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '\'' || first == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
