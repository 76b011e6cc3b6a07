package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// Entry is one line of a directory reply
type Entry struct {
	ID   uint32
	Name string
}

// FormatDirectory renders entries as "id:name\n" lines ordered by id.
// Names pass through SanitizeName so each entry stays on one line.
// The directory travels in a single Text slot, so lines that would push it
// past MaxTextLength are dropped whole rather than cut mid-line.
func FormatDirectory(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, e := range sorted {
		line := strconv.FormatUint(uint64(e.ID), 10) + ":" + SanitizeName(e.Name) + "\n"
		if b.Len()+len(line) > MaxTextLength {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// ParseDirectory reads the lines produced by FormatDirectory.
// Lines without a numeric id are skipped.
func ParseDirectory(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		idStr, name, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 32)
		if err != nil || id == 0 {
			continue
		}
		entries = append(entries, Entry{ID: uint32(id), Name: name})
	}
	return entries
}
