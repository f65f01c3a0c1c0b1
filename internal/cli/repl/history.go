package repl

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultHistorySize bounds the persisted history.
const DefaultHistorySize = 1000

// History keeps entered lines, persisted to a file.
type History struct {
	entries []string
	maxSize int
	file    string
}

// NewHistory creates a history stored in file. An empty file means
// ~/.ksefbridge/history; "-" disables persistence.
func NewHistory(file string) *History {
	if file == "" {
		if home, err := os.UserHomeDir(); err == nil {
			file = filepath.Join(home, ".ksefbridge", "history")
		} else {
			file = "-"
		}
	}
	return &History{maxSize: DefaultHistorySize, file: file}
}

// Add appends a line, skipping immediate repeats.
func (h *History) Add(line string) {
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

// Get returns the entry at index, 0 being the most recent.
func (h *History) Get(index int) string {
	if index < 0 || index >= len(h.entries) {
		return ""
	}
	return h.entries[len(h.entries)-1-index]
}

// Entries returns the entries, oldest first.
func (h *History) Entries() []string {
	return append([]string(nil), h.entries...)
}

// Load reads the history file. A missing file is not an error.
func (h *History) Load() error {
	if h.file == "-" {
		return nil
	}
	file, err := os.Open(h.file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			h.Add(line)
		}
	}
	return scanner.Err()
}

// Save writes the history file with 0600 permissions. Lines that carry
// an API key or token flag are not persisted.
func (h *History) Save() error {
	if h.file == "-" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.file), 0o700); err != nil {
		return err
	}

	var b strings.Builder
	for _, entry := range h.entries {
		if sensitive(entry) {
			continue
		}
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	return os.WriteFile(h.file, []byte(b.String()), 0o600)
}

func sensitive(line string) bool {
	for _, marker := range []string{"--api-key", "--token", "-K "} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}
