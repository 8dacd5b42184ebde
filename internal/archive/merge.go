package archive

import (
	"qmp/internal/entry"
	"qmp/internal/keywords"
	"qmp/internal/pending"
)

// Status is the structured change report of one merge.
type Status struct {
	Date            string `json:"date"`
	ExistsBefore    bool   `json:"exists_before"`
	ContentChanged  bool   `json:"content_changed"`
	KeywordsChanged bool   `json:"keywords_changed"`
	AppliedKeywords bool   `json:"applied_keywords"`
	ArchiveWritten  bool   `json:"archive_written"`

	// Carried for the commit message.
	MyPoemTitle   string `json:"my_poem_title"`
	MyPoemSnippet string `json:"my_poem_snippet"`
}

// Merge upserts candidate into the archive. Pure over its inputs: the archive
// is only mutated when every invariant holds, and no I/O happens here.
//
// With applyKeywords the pending record supplies the keywords and its date
// must match the candidate exactly; otherwise the previously published
// keywords are preserved (empty for a new entry). A new entry with no
// keywords is blocked: it would be unsearchable once published.
func (a *Archive) Merge(candidate entry.Entry, pendingKw *pending.Keywords, applyKeywords bool) (Status, error) {
	old := a.FindByDate(candidate.Date)

	switch {
	case applyKeywords:
		if pendingKw == nil || pendingKw.IsPlaceholder() {
			return Status{}, validationErrorf("no pending keywords to apply for %s", candidate.Date)
		}
		if pendingKw.Date != candidate.Date {
			return Status{}, validationErrorf("pending keywords are for %s, not %s", pendingKw.Date, candidate.Date)
		}
		candidate.Keywords = keywords.Normalize(pendingKw.Keywords, 0)
	case old != nil:
		candidate.Keywords = old.Keywords
	default:
		candidate.Keywords = []keywords.Keyword{}
	}

	if old == nil && len(candidate.Keywords) == 0 {
		return Status{}, validationErrorf("new entry %s has no keywords; generate them first", candidate.Date)
	}

	status := Status{
		Date:            candidate.Date,
		ExistsBefore:    old != nil,
		AppliedKeywords: applyKeywords,
		MyPoemTitle:     candidate.MyPoemTitle,
		MyPoemSnippet:   candidate.MyPoemSnippet,
	}
	if old == nil {
		status.ContentChanged = true
		status.KeywordsChanged = len(candidate.Keywords) > 0
	} else {
		status.ContentChanged = !candidate.ContentEqual(*old)
		status.KeywordsChanged = !keywords.Equal(candidate.Keywords, old.Keywords)
	}

	if old != nil {
		*old = candidate
	} else {
		a.Entries = append(a.Entries, candidate)
	}
	return status, nil
}

// MergeFile is the state-transition form with I/O at the boundary: read the
// archive, merge, and atomically write the result. The file is left untouched
// unless the whole merge succeeds.
func MergeFile(path string, candidate entry.Entry, pendingKw *pending.Keywords, applyKeywords bool) (Status, error) {
	a, err := Load(path)
	if err != nil {
		return Status{}, err
	}
	status, err := a.Merge(candidate, pendingKw, applyKeywords)
	if err != nil {
		return Status{}, err
	}
	if err := a.Save(path); err != nil {
		return Status{}, err
	}
	status.ArchiveWritten = true
	return status, nil
}
