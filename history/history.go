// Package history records every command relayed to the interpreter, in the order the commands were issued.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one relayed command and what it produced. Entries are never modified once appended.
type Entry struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exitCode"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

func NewEntry(command, stdout, stderr string, exitCode int, duration time.Duration) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Command:   command,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Timestamp: time.Now().UTC(),
		Duration:  duration,
	}
}

// Ledger is an append-only, insertion-ordered record of entries.
// Implementations must be safe for concurrent use.
type Ledger interface {
	Append(e Entry) error
	// All returns every entry, oldest first.
	All() ([]Entry, error)
	// Clear removes every entry.
	Clear() error
}

type MemoryLedger struct {
	m       sync.Mutex
	entries []Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(e Entry) error {
	l.m.Lock()
	defer l.m.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLedger) All() ([]Entry, error) {
	l.m.Lock()
	defer l.m.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

func (l *MemoryLedger) Clear() error {
	l.m.Lock()
	defer l.m.Unlock()
	l.entries = nil
	return nil
}
