// Package entry defines the published entry record and the flat-text format
// it is parsed from and rendered to.
package entry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"qmp/internal/fingerprint"
	"qmp/internal/keywords"
)

// Analysis carries the cited-poem metadata of an entry.
type Analysis struct {
	Poet        string `json:"poet"`
	PoemTitle   string `json:"poem_title"`
	PoemSnippet string `json:"poem_snippet"`
	BookTitle   string `json:"book_title"`
}

// Entry is one published unit, keyed by Date (YYYY-MM-DD, unique within the
// archive). Month is always Date[:7].
type Entry struct {
	Date          string             `json:"date"`
	Month         string             `json:"month"`
	File          string             `json:"file"`
	MyPoemTitle   string             `json:"my_poem_title"`
	MyPoemSnippet string             `json:"my_poem_snippet"`
	Analysis      Analysis           `json:"analysis"`
	Keywords      []keywords.Keyword `json:"keywords"`
}

// ContentEqual reports whether two entries carry the same published content,
// ignoring keywords. Keyword equality is a separate concern with its own
// normalization rules.
func (e Entry) ContentEqual(other Entry) bool {
	return e.Date == other.Date &&
		e.Month == other.Month &&
		e.File == other.File &&
		e.MyPoemTitle == other.MyPoemTitle &&
		e.MyPoemSnippet == other.MyPoemSnippet &&
		e.Analysis == other.Analysis
}

// FormatError reports that a source document or entry file does not match the
// expected structural contract. Always fatal, never retried.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return e.Msg }

func formatErrorf(format string, args ...any) *FormatError {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// Section names in canonical header order.
const (
	SectionPoem     = "POEMA"
	SectionCited    = "POEMA_CITADO"
	SectionAnalysis = "TEXTO"
)

var SectionOrder = []string{SectionPoem, SectionCited, SectionAnalysis}

// metaAliases maps the metadata keys of the text format to canonical field
// names. Unrecognized keys are ignored.
var metaAliases = map[string]string{
	"FECHA":         "date",
	"MY_POEM_TITLE": "my_poem_title",
	"POETA":         "poet",
	"POEM_TITLE":    "poem_title",
	"BOOK_TITLE":    "book_title",
}

var (
	DateRe        = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	filenameDate  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	metaLineRe    = regexp.MustCompile(`^\s*([A-Z_]+)\s*:\s*(.*?)\s*$`)
	headerLineRe  = regexp.MustCompile(`^\s*#\s*(POEMA|POEMA_CITADO|TEXTO)\s*$`)
)

// Parsed is the outcome of parsing one entry text file: canonical metadata
// plus the raw bodies of the three sections.
type Parsed struct {
	Meta     map[string]string
	Sections map[string]string
}

// Fingerprint hashes the parsed sections.
func (p *Parsed) Fingerprint() string {
	return fingerprint.FromSections(p.Sections)
}

// Parse extracts metadata and sections from raw entry text. fileName is used
// as the date fallback when the FECHA line is absent. It fails only when no
// valid date can be determined or when the TEXTO section is missing or empty,
// the minimum publishable content.
func Parse(raw, fileName string) (*Parsed, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	meta, body := splitMeta(raw)
	sections := splitSections(body)

	date := meta["date"]
	if date == "" {
		date = filenameDate.FindString(filepath.Base(fileName))
	}
	if !DateRe.MatchString(date) {
		return nil, formatErrorf("no valid date: FECHA missing and filename %q is not YYYY-MM-DD", fileName)
	}
	meta["date"] = date

	if fingerprint.Normalize(sections[SectionAnalysis]) == "" {
		return nil, formatErrorf("entry %s has no # TEXTO section", date)
	}
	return &Parsed{Meta: meta, Sections: sections}, nil
}

// SplitRaw splits raw entry text into metadata and sections without any
// validation. Used when diffing against a published file that may be
// incomplete or missing sections.
func SplitRaw(raw string) (map[string]string, map[string]string) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	meta, body := splitMeta(raw)
	return meta, splitSections(body)
}

func splitMeta(raw string) (map[string]string, string) {
	meta := map[string]string{}
	lines := strings.Split(raw, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			i++
			break
		}
		if headerLineRe.MatchString(line) {
			break
		}
		m := metaLineRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		if canonical, ok := metaAliases[m[1]]; ok {
			meta[canonical] = m[2]
		}
		i++
	}
	return meta, strings.Join(lines[i:], "\n")
}

func splitSections(body string) map[string]string {
	sections := map[string]string{}
	lines := strings.Split(body, "\n")

	current := ""
	var buf []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(buf, "\n"))
		}
		buf = nil
	}
	for _, line := range lines {
		if m := headerLineRe.FindStringSubmatch(line); m != nil {
			flush()
			current = m[1]
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

// FirstNonEmptyLine returns the first line of s with visible content.
func FirstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// snippetIfNoTitle yields a snippet only when the corresponding title is
// empty; titled poems are referenced by title alone.
func snippetIfNoTitle(title, sectionText string) string {
	if strings.TrimSpace(title) != "" {
		return ""
	}
	return FirstNonEmptyLine(sectionText)
}

// FromParsed builds the archive Entry for a parsed text file. Keywords are
// left empty; they are filled or preserved by the merge step.
func FromParsed(p *Parsed, file string) Entry {
	date := p.Meta["date"]
	return Entry{
		Date:          date,
		Month:         date[:7],
		File:          file,
		MyPoemTitle:   strings.TrimSpace(p.Meta["my_poem_title"]),
		MyPoemSnippet: snippetIfNoTitle(p.Meta["my_poem_title"], p.Sections[SectionPoem]),
		Analysis: Analysis{
			Poet:        strings.TrimSpace(p.Meta["poet"]),
			PoemTitle:   strings.TrimSpace(p.Meta["poem_title"]),
			PoemSnippet: snippetIfNoTitle(p.Meta["poem_title"], p.Sections[SectionCited]),
			BookTitle:   strings.TrimSpace(p.Meta["book_title"]),
		},
		Keywords: []keywords.Keyword{},
	}
}

// Render produces the canonical .txt build output: metadata block, blank
// line, then the three sections with normalized bodies.
func Render(date, myPoemTitle, poet, poemTitle, bookTitle, poem, cited, analysis string) string {
	parts := []string{
		"FECHA: " + date,
		strings.TrimRight("MY_POEM_TITLE: "+myPoemTitle, " "),
		strings.TrimRight("POETA: "+poet, " "),
		strings.TrimRight("POEM_TITLE: "+poemTitle, " "),
		strings.TrimRight("BOOK_TITLE: "+bookTitle, " "),
		"",
		"# " + SectionPoem,
		fingerprint.Normalize(poem),
		"",
		"# " + SectionCited,
		fingerprint.Normalize(cited),
		"",
		"# " + SectionAnalysis,
		fingerprint.Normalize(analysis),
		"",
	}
	return strings.Join(parts, "\n")
}

// PathForDate places an entry file under textosDir/YYYY/MM/YYYY-MM-DD.txt.
func PathForDate(textosDir, date string) string {
	return filepath.Join(textosDir, date[:4], date[5:7], date+".txt")
}
