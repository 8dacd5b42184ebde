// Package pending persists the staging records written between pipeline
// invocations: the pending entry and the pending keywords. Both are scoped to
// a single publish run and reset to explicit placeholders afterwards.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"qmp/internal/entry"
	"qmp/internal/keywords"
)

// Keywords is the pending-keywords record. It is only usable for a publish
// when its date matches the candidate and its fingerprint matches the source.
type Keywords struct {
	Date            string             `json:"date"`
	DocsFingerprint string             `json:"docs_fingerprint"`
	Keywords        []keywords.Keyword `json:"keywords"`
	GeneratedAt     string             `json:"generated_at,omitempty"`
}

// IsPlaceholder reports the post-publish empty state.
func (k *Keywords) IsPlaceholder() bool {
	return k.Date == "" && len(k.Keywords) == 0
}

// ValidFor explains why the record cannot be used for the given date and
// source fingerprint, or returns nil when it is current. Callers must treat
// any error as "regenerate", never silently reuse the record.
func (k *Keywords) ValidFor(date, docsFingerprint string) error {
	if k == nil || k.IsPlaceholder() {
		return errors.New("no pending keywords")
	}
	if k.Date != date {
		return fmt.Errorf("pending keywords are for %s, not %s", k.Date, date)
	}
	if len(keywords.Normalize(k.Keywords, 0)) == 0 {
		return errors.New("pending keywords list is empty")
	}
	if k.DocsFingerprint == "" {
		return errors.New("pending keywords carry no docs_fingerprint")
	}
	if k.DocsFingerprint != docsFingerprint {
		return errors.New("pending keywords are stale: fingerprint does not match the current source")
	}
	return nil
}

// Store reads and writes the two staging files. All writes are atomic
// (temp file in the same directory, then rename).
type Store struct {
	KeywordsPath string
	EntryPath    string
}

func NewStore(stateDir string) *Store {
	return &Store{
		KeywordsPath: filepath.Join(stateDir, "pending_keywords.json"),
		EntryPath:    filepath.Join(stateDir, "pending_entry.json"),
	}
}

// LoadKeywords returns nil when the file is missing or holds the placeholder.
// A malformed file is an error, not an empty result.
func (s *Store) LoadKeywords() (*Keywords, error) {
	raw, err := os.ReadFile(s.KeywordsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var k Keywords
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("pending keywords file is not valid JSON: %w", err)
	}
	if k.IsPlaceholder() {
		return nil, nil
	}
	return &k, nil
}

// WriteKeywords stamps the record with the generation time and persists it.
func (s *Store) WriteKeywords(date, docsFingerprint string, kws []keywords.Keyword) error {
	k := Keywords{
		Date:            date,
		DocsFingerprint: docsFingerprint,
		Keywords:        kws,
		GeneratedAt:     time.Now().Format(time.RFC3339),
	}
	return writeJSONAtomic(s.KeywordsPath, k)
}

// WriteEntry persists the merged entry for inspection and commit scoping.
func (s *Store) WriteEntry(e entry.Entry) error {
	return writeJSONAtomic(s.EntryPath, e)
}

// Reset overwrites both staging files with explicit empty placeholders after
// a successful publish. Files are never deleted, so later reads see "no
// pending" rather than a missing-file error.
func (s *Store) Reset() error {
	placeholder := Keywords{Date: "", DocsFingerprint: "", Keywords: []keywords.Keyword{}}
	if err := writeJSONAtomic(s.KeywordsPath, placeholder); err != nil {
		return err
	}
	return writeJSONAtomic(s.EntryPath, struct{}{})
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic writes to a temp path in the target directory and renames
// over the destination, so no partial file is ever observable.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
