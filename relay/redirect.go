package relay

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAmbiguousRedirection is returned by ParseRedirection when the text has redirection operators
// but cannot be split into exactly one command and one target. The text is then passed through untouched.
var ErrAmbiguousRedirection = errors.New("ambiguous redirection")

// Redirection is a parsed "> target" or ">> target" suffix.
type Redirection struct {
	Target string
	Append bool
}

func (r *Redirection) mode() string {
	if r.Append {
		return "append"
	}
	return "overwrite"
}

// ParseRedirection splits text into the command to send and an optional redirection.
// ">>" takes precedence over ">". When no usable redirection is found the original text is returned with a nil Redirection.
func ParseRedirection(text string) (string, *Redirection, error) {
	var op string
	appendMode := false
	switch {
	case strings.Contains(text, ">>"):
		op, appendMode = ">>", true
	case strings.Contains(text, ">"):
		op = ">"
	default:
		return text, nil, nil
	}

	parts := strings.Split(text, op)
	if len(parts) != 2 {
		return text, nil, fmt.Errorf("found %d %q operators: %w", len(parts)-1, op, ErrAmbiguousRedirection)
	}
	command := strings.TrimSpace(parts[0])
	target := strings.TrimSpace(parts[1])
	if command == "" || target == "" {
		return text, nil, fmt.Errorf("missing command or target around %q: %w", op, ErrAmbiguousRedirection)
	}
	return command, &Redirection{Target: target, Append: appendMode}, nil
}
