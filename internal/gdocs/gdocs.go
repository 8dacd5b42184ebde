// Package gdocs pulls poem and analysis content from the exported HTML of the
// source documents. Entries are anchored by a heading whose first six digits
// are the YYMMDD of the entry date; everything else about the documents is
// treated as opaque.
package gdocs

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// FormatError reports that a document does not match the expected structural
// contract: missing, duplicated or malformed date anchor, or a missing
// required block. Always fatal, never retried.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return e.Msg }

func formatErrorf(format string, args ...any) *FormatError {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// PoemDoc is the pulled content of one entry in the poems document.
type PoemDoc struct {
	Title string
	Poem  string
}

// AnalysisDoc is the pulled content of one entry in the analysis document.
type AnalysisDoc struct {
	Poet       string
	PoemTitle  string
	BookTitle  string
	PoemCitado string
	Analysis   string
}

// Puller fetches the two source documents for a date.
type Puller interface {
	PullPoem(ctx context.Context, date string) (*PoemDoc, error)
	PullAnalysis(ctx context.Context, date string) (*AnalysisDoc, error)
}

// HTTPPuller reads both documents from their exported-HTML URLs.
type HTTPPuller struct {
	client      *http.Client
	poemsURL    string
	analysisURL string
}

func NewHTTPPuller(client *http.Client, poemsURL, analysisURL string) *HTTPPuller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPuller{client: client, poemsURL: poemsURL, analysisURL: analysisURL}
}

func (p *HTTPPuller) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document: unexpected status %s", resp.Status)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func (p *HTTPPuller) PullPoem(ctx context.Context, date string) (*PoemDoc, error) {
	doc, err := p.fetchDocument(ctx, p.poemsURL)
	if err != nil {
		return nil, err
	}
	return ExtractPoem(doc, date)
}

func (p *HTTPPuller) PullAnalysis(ctx context.Context, date string) (*AnalysisDoc, error) {
	doc, err := p.fetchDocument(ctx, p.analysisURL)
	if err != nil {
		return nil, err
	}
	return ExtractAnalysis(doc, date)
}

var (
	nonDigits   = regexp.MustCompile(`\D+`)
	metaPoetRe  = regexp.MustCompile(`(?i)^\s*poeta\s*:\s*(.*)\s*$`)
	metaBookRe  = regexp.MustCompile(`(?i)^\s*libro\s*:\s*(.*)\s*$`)
	metaTitleRe = regexp.MustCompile(`(?i)^\s*t[íi]tulo\s*:\s*(.*)\s*$`)
	finalRe     = regexp.MustCompile(`(?i)^\s*versi[oó]n\s+final\s*:?.*$`)
)

// yymmdd converts YYYY-MM-DD into the six-digit anchor form.
func yymmdd(date string) string {
	return date[2:4] + date[5:7] + date[8:10]
}

func stripInvisibles(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	for _, ch := range []string{"\u200b", "\ufeff", "\u2060"} {
		s = strings.ReplaceAll(s, ch, "")
	}
	return s
}

func firstSixDigits(s string) string {
	digits := nonDigits.ReplaceAllString(stripInvisibles(s), "")
	if len(digits) > 6 {
		digits = digits[:6]
	}
	return digits
}

// nodeText extracts the visible text of one block node, skipping struck-out
// spans and normalizing line separators.
func nodeText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("s, del, strike").Remove()
	text := stripInvisibles(clone.Text())
	text = strings.ReplaceAll(text, "\v", "\n")
	return strings.TrimRight(text, "\n")
}

// block is one paragraph-level unit of the entry region.
type block struct {
	tag  string
	text string
}

// entryBlocks returns the blocks between the date-anchor h1 and the next
// anchor. FormatError when the anchor is absent or appears more than once.
func entryBlocks(doc *goquery.Document, date string) ([]block, error) {
	anchor := yymmdd(date)

	var blocks []block
	anchors := 0
	inEntry := false
	doc.Find("h1, h2, h3, p").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		text := nodeText(sel)
		if tag == "h1" {
			if firstSixDigits(text) == anchor {
				anchors++
				inEntry = anchors == 1
				return
			}
			// any other dated h1 ends the entry
			if len(firstSixDigits(text)) == 6 {
				inEntry = false
			}
			return
		}
		if inEntry {
			blocks = append(blocks, block{tag: tag, text: text})
		}
	})

	if anchors == 0 {
		return nil, formatErrorf("no heading found for date %s (anchor %s)", date, anchor)
	}
	if anchors > 1 {
		return nil, formatErrorf("date %s appears in %d headings, want exactly one", date, anchors)
	}
	return blocks, nil
}

func joinParagraphs(blocks []block) string {
	var lines []string
	for _, b := range blocks {
		lines = append(lines, b.text)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractPoem locates the entry for date in the poems document: an optional
// title in the first h2 of the block, then the poem body.
func ExtractPoem(doc *goquery.Document, date string) (*PoemDoc, error) {
	blocks, err := entryBlocks(doc, date)
	if err != nil {
		return nil, err
	}

	out := &PoemDoc{}
	var body []block
	for i, b := range blocks {
		if i == 0 && (b.tag == "h2" || b.tag == "h3") {
			out.Title = strings.TrimSpace(b.text)
			continue
		}
		body = append(body, b)
	}
	out.Poem = joinParagraphs(body)
	if out.Poem == "" {
		return nil, formatErrorf("poem for %s is empty", date)
	}
	return out, nil
}

// ExtractAnalysis locates the entry for date in the analysis document:
// metadata lines (Poeta/Libro/Título, any order), the cited poem between the
// metadata and the "Versión final" heading, and the analysis after it.
func ExtractAnalysis(doc *goquery.Document, date string) (*AnalysisDoc, error) {
	blocks, err := entryBlocks(doc, date)
	if err != nil {
		return nil, err
	}

	out := &AnalysisDoc{}
	var cited, analysis []block
	seenFinal := false
	for _, b := range blocks {
		if (b.tag == "h2" || b.tag == "h3") && finalRe.MatchString(b.text) {
			if seenFinal {
				return nil, formatErrorf("date %s has more than one \"Versión final\" heading", date)
			}
			seenFinal = true
			continue
		}
		if !seenFinal {
			if m := metaPoetRe.FindStringSubmatch(b.text); m != nil {
				out.Poet = strings.TrimSpace(m[1])
				continue
			}
			if m := metaBookRe.FindStringSubmatch(b.text); m != nil {
				out.BookTitle = strings.TrimSpace(m[1])
				continue
			}
			if m := metaTitleRe.FindStringSubmatch(b.text); m != nil {
				out.PoemTitle = strings.TrimSpace(m[1])
				continue
			}
			cited = append(cited, b)
		} else {
			analysis = append(analysis, b)
		}
	}
	if !seenFinal {
		return nil, formatErrorf("date %s has no \"Versión final\" heading", date)
	}
	out.PoemCitado = joinParagraphs(cited)
	out.Analysis = joinParagraphs(analysis)
	return out, nil
}
