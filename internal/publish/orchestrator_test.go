package publish

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"qmp/internal/archive"
	"qmp/internal/entry"
	"qmp/internal/gdocs"
	"qmp/internal/keywords"
	"qmp/internal/pending"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePuller struct {
	poem     *gdocs.PoemDoc
	analysis *gdocs.AnalysisDoc
	err      error
	pulls    int
}

func (f *fakePuller) PullPoem(context.Context, string) (*gdocs.PoemDoc, error) {
	f.pulls++
	return f.poem, f.err
}

func (f *fakePuller) PullAnalysis(context.Context, string) (*gdocs.AnalysisDoc, error) {
	return f.analysis, f.err
}

type fakeGenerator struct {
	kws   []keywords.Keyword
	err   error
	calls int
}

func (f *fakeGenerator) Generate(context.Context, string) ([]keywords.Keyword, error) {
	f.calls++
	return f.kws, f.err
}

type fakeVCS struct {
	branch  string
	status  []string
	diff    bool
	added   [][]string
	commits []string
	pushes  []string
}

func (f *fakeVCS) CurrentBranch() (string, error)     { return f.branch, nil }
func (f *fakeVCS) StatusPorcelain() ([]string, error) { return f.status, nil }
func (f *fakeVCS) FileHasDiff(string) (bool, error)   { return f.diff, nil }
func (f *fakeVCS) Add(paths ...string) error {
	f.added = append(f.added, paths)
	return nil
}
func (f *fakeVCS) Commit(msg string) error { f.commits = append(f.commits, msg); return nil }
func (f *fakeVCS) Push(remote, branch string) error {
	f.pushes = append(f.pushes, remote+" "+branch)
	return nil
}

// scriptPrompter answers prompts from a queue, then yes.
type scriptPrompter struct {
	answers []bool
	asked   int
}

func (s *scriptPrompter) Confirm(string, bool) (bool, error) {
	s.asked++
	if len(s.answers) == 0 {
		return true, nil
	}
	ans := s.answers[0]
	s.answers = s.answers[1:]
	return ans, nil
}

type fixture struct {
	dir    string
	o      *Orchestrator
	puller *fakePuller
	gen    *fakeGenerator
	vcs    *fakeVCS
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	puller := &fakePuller{
		poem: &gdocs.PoemDoc{Title: "Mi título", Poem: "verso uno\nverso dos"},
		analysis: &gdocs.AnalysisDoc{
			Poet:       "Alejandra Pizarnik",
			PoemTitle:  "El despertar",
			BookTitle:  "Las aventuras perdidas",
			PoemCitado: "verso citado",
			Analysis:   "párrafo de análisis",
		},
	}
	gen := &fakeGenerator{kws: []keywords.Keyword{
		{Word: "Noche", Weight: 3},
		{Word: "mar", Weight: 2},
	}}
	vcs := &fakeVCS{branch: "main"}

	f := &fixture{dir: dir, puller: puller, gen: gen, vcs: vcs}
	f.o = &Orchestrator{
		ArchivePath: filepath.Join(dir, "archivo.json"),
		TextosDir:   filepath.Join(dir, "textos"),
		Pending:     pending.NewStore(filepath.Join(dir, "state")),
		Puller:      puller,
		Generator:   gen,
		VCS:         vcs,
		Prompter:    AutoPrompter{},
		Remote:      "origin",
		Branch:      "main",
		Out:         &bytes.Buffer{},
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return f
}

func (f *fixture) txtPath(date string) string {
	return entry.PathForDate(f.o.TextosDir, date)
}

// seedPublished renders, writes and archives an entry built from the fake
// puller's documents, so the published state matches the source exactly.
func (f *fixture) seedPublished(t *testing.T, date string, kws []keywords.Keyword) {
	t.Helper()
	p := f.puller
	content := entry.Render(date, p.poem.Title, p.analysis.Poet, p.analysis.PoemTitle,
		p.analysis.BookTitle, p.poem.Poem, p.analysis.PoemCitado, p.analysis.Analysis)
	path := f.txtPath(date)
	require.NoError(t, pending.WriteFileAtomic(path, []byte(content)))

	parsed, err := entry.Parse(content, path)
	require.NoError(t, err)
	e := entry.FromParsed(parsed, filepath.ToSlash(path))
	e.Keywords = kws

	arc := &archive.Archive{Entries: []entry.Entry{e}}
	require.NoError(t, arc.Save(f.o.ArchivePath))
}

func TestCrear_PublishesNewEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.o.Crear(ctx, "2025-03-10"))

	// Entry text on disk.
	raw, err := os.ReadFile(f.txtPath("2025-03-10"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "FECHA: 2025-03-10")
	assert.Contains(t, string(raw), "# POEMA\nverso uno")

	// Archive holds the entry with normalized keywords.
	arc, err := archive.Load(f.o.ArchivePath)
	require.NoError(t, err)
	e := arc.FindByDate("2025-03-10")
	require.NotNil(t, e)
	assert.Equal(t, "Mi título", e.MyPoemTitle)
	assert.Equal(t, []keywords.Keyword{{Word: "noche", Weight: 3}, {Word: "mar", Weight: 2}}, e.Keywords)

	// Pending store reset to placeholders before the commit.
	k, err := f.o.Pending.LoadKeywords()
	require.NoError(t, err)
	assert.Nil(t, k)

	require.Len(t, f.vcs.commits, 1)
	assert.Equal(t, "nueva entrada 2025-03-10: Mi título", f.vcs.commits[0])
	require.Len(t, f.vcs.added, 1)
	assert.Len(t, f.vcs.added[0], 4)
	assert.Equal(t, []string{"origin main"}, f.vcs.pushes)
}

func TestCrear_AlreadyPublishedDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedPublished(t, "2025-03-10", []keywords.Keyword{{Word: "mar", Weight: 2}})

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))
	assert.Zero(t, f.puller.pulls, "must not pull for an already published date")
	assert.Empty(t, f.vcs.commits)
}

func TestCrear_AbortLeavesNoState(t *testing.T) {
	f := newFixture(t)
	// preview: no, content correct: no → abort.
	f.o.Prompter = &scriptPrompter{answers: []bool{false, false}}

	err := f.o.Crear(context.Background(), "2025-03-10")
	require.ErrorIs(t, err, ErrAborted)

	_, statErr := os.Stat(f.txtPath("2025-03-10"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.o.ArchivePath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, f.vcs.commits)
	assert.Zero(t, f.gen.calls)
}

func TestCrear_DryRunWritesOnlyPendingKeywords(t *testing.T) {
	f := newFixture(t)
	f.o.DryRun = true

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))

	_, err := os.Stat(f.txtPath("2025-03-10"))
	assert.True(t, os.IsNotExist(err), "dry-run must not write the entry text")
	_, err = os.Stat(f.o.ArchivePath)
	assert.True(t, os.IsNotExist(err), "dry-run must not write the archive")
	assert.Empty(t, f.vcs.commits)

	// Generated keywords stay staged for a later real run.
	k, err := f.o.Pending.LoadKeywords()
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, "2025-03-10", k.Date)
}

func TestCrear_DeclinedOverwriteArchivesTheFileOnDisk(t *testing.T) {
	f := newFixture(t)
	path := f.txtPath("2025-03-10")
	existing := entry.Render("2025-03-10", "Título viejo", "Otro Poeta", "", "",
		"poema viejo", "citado viejo", "texto viejo")
	require.NoError(t, pending.WriteFileAtomic(path, []byte(existing)))

	// preview: no, correct: yes, overwrite existing txt: no, generate: yes,
	// confirm publish: yes.
	f.o.Prompter = &scriptPrompter{answers: []bool{false, true, false, true, true}}

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, existing, string(raw), "declined overwrite must leave the file alone")

	// The archived entry mirrors the committed file, not the pulled source.
	arc, err := archive.Load(f.o.ArchivePath)
	require.NoError(t, err)
	e := arc.FindByDate("2025-03-10")
	require.NotNil(t, e)
	assert.Equal(t, "Título viejo", e.MyPoemTitle)
	assert.Equal(t, "Otro Poeta", e.Analysis.Poet)
	require.Len(t, f.vcs.commits, 1)
}

func TestCrear_EmptySectionRejected(t *testing.T) {
	f := newFixture(t)
	f.puller.analysis.Analysis = "   \n  "

	err := f.o.Crear(context.Background(), "2025-03-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEXTO")
}

func TestCrear_ReusesValidPendingKeywords(t *testing.T) {
	f := newFixture(t)
	p := f.puller
	fp := fingerprintOf(p)
	require.NoError(t, f.o.Pending.WriteKeywords("2025-03-10", fp,
		[]keywords.Keyword{{Word: "reusada", Weight: 2}}))

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))
	assert.Zero(t, f.gen.calls, "valid pending keywords must be reused, not regenerated")

	arc, err := archive.Load(f.o.ArchivePath)
	require.NoError(t, err)
	e := arc.FindByDate("2025-03-10")
	require.NotNil(t, e)
	assert.Equal(t, []keywords.Keyword{{Word: "reusada", Weight: 2}}, e.Keywords)
}

func TestCrear_StalePendingKeywordsRegenerated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.o.Pending.WriteKeywords("2025-03-10", "sha256:stale",
		[]keywords.Keyword{{Word: "vieja", Weight: 1}}))

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))
	assert.Equal(t, 1, f.gen.calls)
}

func TestCrear_DirtyTreeCancelled(t *testing.T) {
	f := newFixture(t)
	f.vcs.status = []string{" M otra-cosa.txt"}
	// preview: no, correct: yes, generate: yes, continue with dirty tree: no.
	f.o.Prompter = &scriptPrompter{answers: []bool{false, true, true, false}}

	err := f.o.Crear(context.Background(), "2025-03-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelado")
	assert.Empty(t, f.vcs.commits)
}

func TestCrear_WrongBranchDeclined(t *testing.T) {
	f := newFixture(t)
	f.vcs.branch = "experimento"
	// preview: no, correct: yes, generate: yes, continue on branch: no.
	f.o.Prompter = &scriptPrompter{answers: []bool{false, true, true, false}}

	require.NoError(t, f.o.Crear(context.Background(), "2025-03-10"))
	assert.Empty(t, f.vcs.commits)
	assert.Empty(t, f.vcs.pushes)
}

func TestCambiar_UnknownDate(t *testing.T) {
	f := newFixture(t)
	err := f.o.Cambiar(context.Background(), "2025-03-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crear")
}

func TestCambiar_KeywordsOnly(t *testing.T) {
	f := newFixture(t)
	f.seedPublished(t, "2025-03-10", []keywords.Keyword{{Word: "vieja", Weight: 1}})
	f.gen.kws = []keywords.Keyword{{Word: "nueva", Weight: 3}}
	// regenerate keywords: yes, confirm publish: yes.
	f.o.Prompter = &scriptPrompter{answers: []bool{true, true}}

	require.NoError(t, f.o.Cambiar(context.Background(), "2025-03-10"))

	arc, err := archive.Load(f.o.ArchivePath)
	require.NoError(t, err)
	e := arc.FindByDate("2025-03-10")
	assert.Equal(t, []keywords.Keyword{{Word: "nueva", Weight: 3}}, e.Keywords)

	require.Len(t, f.vcs.commits, 1)
	assert.Equal(t, "keywords 2025-03-10", f.vcs.commits[0])
}

func TestCambiar_NothingToPublish(t *testing.T) {
	f := newFixture(t)
	f.seedPublished(t, "2025-03-10", []keywords.Keyword{{Word: "mar", Weight: 2}})
	// regenerate keywords: no.
	f.o.Prompter = &scriptPrompter{answers: []bool{false}}

	require.NoError(t, f.o.Cambiar(context.Background(), "2025-03-10"))
	assert.Empty(t, f.vcs.commits)
	assert.Empty(t, f.gen.calls)
}

func TestCambiar_PoemChangeKeepsOldKeywords(t *testing.T) {
	f := newFixture(t)
	old := []keywords.Keyword{{Word: "mar", Weight: 2}}
	f.seedPublished(t, "2025-03-10", old)
	f.puller.poem.Poem = "verso totalmente nuevo"
	// apply text changes: yes, content correct: yes, regenerate keywords: no,
	// confirm publish: yes.
	f.o.Prompter = &scriptPrompter{answers: []bool{true, true, false, true}}

	require.NoError(t, f.o.Cambiar(context.Background(), "2025-03-10"))

	raw, err := os.ReadFile(f.txtPath("2025-03-10"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "verso totalmente nuevo")

	arc, err := archive.Load(f.o.ArchivePath)
	require.NoError(t, err)
	e := arc.FindByDate("2025-03-10")
	assert.Equal(t, old, e.Keywords, "content-only change must preserve keywords")

	require.Len(t, f.vcs.commits, 1)
	assert.Equal(t, "cambio de poema 2025-03-10", f.vcs.commits[0])
}

func TestCambiar_AnalysisAndKeywordsCommitMessage(t *testing.T) {
	f := newFixture(t)
	f.seedPublished(t, "2025-03-10", []keywords.Keyword{{Word: "mar", Weight: 2}})
	f.puller.analysis.Analysis = "análisis reescrito"
	f.gen.kws = []keywords.Keyword{{Word: "nueva", Weight: 3}}
	// apply: yes, correct: yes, regenerate: yes, confirm publish: yes.
	f.o.Prompter = &scriptPrompter{answers: []bool{true, true, true, true}}

	require.NoError(t, f.o.Cambiar(context.Background(), "2025-03-10"))
	require.Len(t, f.vcs.commits, 1)
	assert.Equal(t, "cambio de análisis + keywords 2025-03-10", f.vcs.commits[0])
}

func TestRegenerateKeywords_StagesPending(t *testing.T) {
	f := newFixture(t)
	f.seedPublished(t, "2025-03-10", []keywords.Keyword{{Word: "mar", Weight: 2}})

	require.NoError(t, f.o.RegenerateKeywords(context.Background(), "2025-03-10"))

	k, err := f.o.Pending.LoadKeywords()
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, "2025-03-10", k.Date)
	assert.NotEmpty(t, k.DocsFingerprint)
	assert.Equal(t, f.gen.kws, k.Keywords)
	assert.Empty(t, f.vcs.commits, "keyword staging must not touch git")
}

func TestRegenerateKeywords_MissingEntry(t *testing.T) {
	f := newFixture(t)
	err := f.o.RegenerateKeywords(context.Background(), "2025-03-10")
	require.Error(t, err)
}

func TestNextDate(t *testing.T) {
	arc := &archive.Archive{Entries: []entry.Entry{
		{Date: "2025-03-08"},
		{Date: "2025-03-10"},
		{Date: "2025-03-09"},
	}}
	assert.Equal(t, "2025-03-11", NextDate(arc))

	assert.Equal(t, "", NextDate(&archive.Archive{}))
	assert.Equal(t, "2026-01-01", NextDate(&archive.Archive{Entries: []entry.Entry{{Date: "2025-12-31"}}}))
}

func TestCommitMessage(t *testing.T) {
	existing := archive.Status{Date: "2025-03-10", ExistsBefore: true}

	assert.Equal(t, "keywords 2025-03-10", commitMessage(existing, false, false, true))
	assert.Equal(t, "cambio de poema 2025-03-10", commitMessage(existing, true, false, false))
	assert.Equal(t, "cambio de poema + análisis + keywords 2025-03-10",
		commitMessage(existing, true, true, true))
	assert.Equal(t, "edicion 2025-03-10", commitMessage(existing, false, false, false))

	fresh := archive.Status{Date: "2025-03-10", MyPoemTitle: "Mi título"}
	assert.Equal(t, "nueva entrada 2025-03-10: Mi título", commitMessage(fresh, false, false, true))

	untitled := archive.Status{Date: "2025-03-10", MyPoemSnippet: "primer verso"}
	assert.Equal(t, "nueva entrada 2025-03-10: primer verso", commitMessage(untitled, false, false, true))
}

func fingerprintOf(p *fakePuller) string {
	pl := &pulled{
		Poem:     p.poem.Poem,
		Cited:    p.analysis.PoemCitado,
		Analysis: p.analysis.Analysis,
	}
	return pl.fingerprint()
}
