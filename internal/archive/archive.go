// Package archive owns the published archive file: loading both accepted JSON
// shapes, the upsert/merge engine, and the single atomic write at the end of
// a successful merge.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"qmp/internal/entry"
	"qmp/internal/pending"
)

// ValidationError reports a violated archive or merge invariant. Fatal;
// nothing is written when one is raised.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Archive is the persisted collection of entries. It remembers which of the
// two accepted file shapes it was read from (bare array vs {"entries": ...})
// and writes the same shape back, preserving extra wrapper fields.
type Archive struct {
	Entries []entry.Entry

	wrapped bool
	extra   map[string]json.RawMessage
}

// Load reads the archive from disk. A missing file yields an empty bare-array
// archive; an unrecognized root shape is a ValidationError.
func Load(path string) (*Archive, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Archive{Entries: []entry.Entry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode parses archive JSON in either accepted shape.
func Decode(raw []byte) (*Archive, error) {
	var asList []entry.Entry
	if err := json.Unmarshal(raw, &asList); err == nil {
		return &Archive{Entries: asList}, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, validationErrorf("archive root is neither a list nor an object")
	}
	entriesRaw, ok := asObject["entries"]
	if !ok {
		return nil, validationErrorf("archive object has no \"entries\" field")
	}
	var entries []entry.Entry
	if err := json.Unmarshal(entriesRaw, &entries); err != nil {
		return nil, validationErrorf("archive \"entries\" is not a list of entries: %v", err)
	}
	delete(asObject, "entries")
	return &Archive{Entries: entries, wrapped: true, extra: asObject}, nil
}

// FindByDate returns the entry published for date, or nil.
func (a *Archive) FindByDate(date string) *entry.Entry {
	for i := range a.Entries {
		if a.Entries[i].Date == date {
			return &a.Entries[i]
		}
	}
	return nil
}

// Encode renders the archive in the shape it was read from, entries sorted
// descending by date, two-space indent, trailing newline.
func (a *Archive) Encode() ([]byte, error) {
	entries := make([]entry.Entry, len(a.Entries))
	copy(entries, a.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})

	var doc any = entries
	if a.wrapped {
		entriesRaw, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}
		obj := map[string]json.RawMessage{"entries": entriesRaw}
		for k, v := range a.extra {
			obj[k] = v
		}
		doc = obj
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the archive atomically.
func (a *Archive) Save(path string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	return pending.WriteFileAtomic(path, data)
}
