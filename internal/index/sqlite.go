// Package index maintains a SQLite snapshot of the published archive so
// entries can be searched by keyword without re-reading the JSON.
package index

import (
	"context"
	"database/sql"
	"fmt"

	"qmp/internal/entry"
	"qmp/internal/keywords"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// NewStore creates or opens the index database.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			date TEXT PRIMARY KEY,
			month TEXT,
			file TEXT,
			my_poem_title TEXT,
			my_poem_snippet TEXT,
			poet TEXT,
			poem_title TEXT,
			book_title TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS entry_keywords (
			date TEXT,
			word TEXT,
			weight INTEGER,
			PRIMARY KEY (date, word)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_keywords_word ON entry_keywords(word);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild replaces the whole snapshot with the given entries in one
// transaction, so the index always mirrors exactly one archive state.
func (s *Store) Rebuild(ctx context.Context, entries []entry.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_keywords"); err != nil {
		return err
	}

	entryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (date, month, file, my_poem_title, my_poem_snippet, poet, poem_title, book_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer entryStmt.Close()

	kwStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entry_keywords (date, word, weight) VALUES (?, ?, ?)
		ON CONFLICT(date, word) DO UPDATE SET weight=MAX(weight, excluded.weight)
	`)
	if err != nil {
		return err
	}
	defer kwStmt.Close()

	for _, e := range entries {
		if _, err := entryStmt.Exec(e.Date, e.Month, e.File, e.MyPoemTitle, e.MyPoemSnippet,
			e.Analysis.Poet, e.Analysis.PoemTitle, e.Analysis.BookTitle); err != nil {
			return err
		}
		for _, kw := range keywords.Normalize(e.Keywords, 0) {
			if _, err := kwStmt.Exec(e.Date, kw.Word, kw.Weight); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Hit is one search result: an entry that carries the searched keyword.
type Hit struct {
	Date        string
	Word        string
	Weight      int
	MyPoemTitle string
	Poet        string
}

// Search returns the entries tagged with the given word (normalized the same
// way keywords are stored), heaviest and newest first.
func (s *Store) Search(ctx context.Context, word string) ([]Hit, error) {
	norm := keywords.NormalizeWord(word)
	if norm == "" {
		return nil, fmt.Errorf("empty search word")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT k.date, k.word, k.weight, e.my_poem_title, e.poet
		FROM entry_keywords k
		JOIN entries e ON e.date = k.date
		WHERE k.word = ?
		ORDER BY k.weight DESC, k.date DESC
	`, norm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Date, &h.Word, &h.Weight, &h.MyPoemTitle, &h.Poet); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// TopKeywords lists the most used keywords across the corpus, by entry count
// then total weight.
func (s *Store) TopKeywords(ctx context.Context, limit int) ([]Keyword, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT word, COUNT(*), SUM(weight)
		FROM entry_keywords
		GROUP BY word
		ORDER BY COUNT(*) DESC, SUM(weight) DESC, word ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.Word, &k.Entries, &k.TotalWeight); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Keyword is one corpus-wide keyword aggregate.
type Keyword struct {
	Word        string
	Entries     int
	TotalWeight int
}
