// Package publish drives the interactive publish pipeline: pull, diff,
// keyword generation, merge, commit. All state writes funnel through the
// archive merge and the pending store; aborting at any prompt leaves both
// untouched.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qmp/internal/archive"
	"qmp/internal/entry"
	"qmp/internal/fingerprint"
	"qmp/internal/gdocs"
	"qmp/internal/git"
	"qmp/internal/keywords"
	"qmp/internal/pending"
)

const sep = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// VCS is the subset of version-control operations the pipeline needs.
// *git.Client implements it.
type VCS interface {
	CurrentBranch() (string, error)
	StatusPorcelain() ([]string, error)
	FileHasDiff(path string) (bool, error)
	Add(paths ...string) error
	Commit(msg string) error
	Push(remote, branch string) error
}

// Orchestrator sequences one publish run. It owns the pending store for the
// duration of the run and is the only caller of the archive merge.
type Orchestrator struct {
	ArchivePath string
	TextosDir   string
	Pending     *pending.Store
	Puller      gdocs.Puller
	Generator   keywords.Generator
	VCS         VCS
	Prompter    Prompter
	Remote      string
	Branch      string

	Out    io.Writer
	Log    *slog.Logger
	DryRun bool
}

func (o *Orchestrator) println(msg string) {
	fmt.Fprintln(o.Out, msg)
}

func (o *Orchestrator) printf(format string, args ...any) {
	fmt.Fprintf(o.Out, format+"\n", args...)
}

// pulled is the merged result of the two document pulls.
type pulled struct {
	MyPoemTitle string
	Poet        string
	PoemTitle   string
	BookTitle   string
	Poem        string
	Cited       string
	Analysis    string
}

func (o *Orchestrator) pull(ctx context.Context, date string) (*pulled, error) {
	poem, err := o.Puller.PullPoem(ctx, date)
	if err != nil {
		return nil, err
	}
	analysis, err := o.Puller.PullAnalysis(ctx, date)
	if err != nil {
		return nil, err
	}
	return &pulled{
		MyPoemTitle: strings.TrimSpace(poem.Title),
		Poet:        strings.TrimSpace(analysis.Poet),
		PoemTitle:   strings.TrimSpace(analysis.PoemTitle),
		BookTitle:   strings.TrimSpace(analysis.BookTitle),
		Poem:        poem.Poem,
		Cited:       analysis.PoemCitado,
		Analysis:    analysis.Analysis,
	}, nil
}

func (p *pulled) validate() error {
	if fingerprint.Normalize(p.Poem) == "" {
		return fmt.Errorf("# POEMA is empty in the source document")
	}
	if fingerprint.Normalize(p.Cited) == "" {
		return fmt.Errorf("# POEMA_CITADO is empty in the source document")
	}
	if fingerprint.Normalize(p.Analysis) == "" {
		return fmt.Errorf("# TEXTO is empty in the source document")
	}
	return nil
}

func (p *pulled) render(date string) string {
	return entry.Render(date, p.MyPoemTitle, p.Poet, p.PoemTitle, p.BookTitle,
		p.Poem, p.Cited, p.Analysis)
}

func (p *pulled) fingerprint() string {
	return fingerprint.Fingerprint(p.Poem, p.Cited, p.Analysis)
}

func (o *Orchestrator) previewBlock(name, text string, n int) {
	lines := strings.Split(fingerprint.Normalize(text), "\n")
	shown := n
	if len(lines) < shown {
		shown = len(lines)
	}
	o.printf("— %s (primeras %d líneas de %d)", name, shown, len(lines))
	for _, ln := range lines[:shown] {
		o.println("  " + ln)
	}
	o.println("")
}

// Crear publishes a brand-new entry for date. It refuses when the date is
// already in the archive.
func (o *Orchestrator) Crear(ctx context.Context, date string) error {
	arc, err := archive.Load(o.ArchivePath)
	if err != nil {
		return err
	}
	if arc.FindByDate(date) != nil {
		o.printf("Ya existe una entrada publicada para %s. Usa 'cambiar' para modificarla.", date)
		return nil
	}

	o.println(sep)
	o.printf(" Pull — %s", date)
	o.println(sep)

	p, err := o.pull(ctx, date)
	if err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	fp := p.fingerprint()

	o.println("Pull OK + validación OK")
	o.printf("  MY_POEM_TITLE: %s", orEmpty(p.MyPoemTitle))
	o.printf("  POETA:         %s", orEmpty(p.Poet))
	o.printf("  POEM_TITLE:    %s", orEmpty(p.PoemTitle))
	o.printf("  BOOK_TITLE:    %s", orEmpty(p.BookTitle))
	o.printf("  fingerprint:   %s", fp)

	if preview, err := o.Prompter.Confirm("¿Ver preview de los 3 escritos?", true); err != nil {
		return err
	} else if preview {
		o.previewBlock("# POEMA", p.Poem, 10)
		o.previewBlock("# POEMA_CITADO", p.Cited, 10)
		o.previewBlock("# TEXTO", p.Analysis, 10)
	}
	if ok, err := o.Prompter.Confirm("¿Confirmas que esto se ve correcto?", false); err != nil {
		return err
	} else if !ok {
		return ErrAborted
	}

	content := p.render(date)
	txtPath := entry.PathForDate(o.TextosDir, date)
	if err := o.writeTxt(txtPath, content); err != nil {
		return err
	}
	if !o.DryRun {
		// The candidate must reflect what gets committed: the on-disk file,
		// which a declined overwrite leaves as it was.
		raw, err := os.ReadFile(txtPath)
		if err != nil {
			return err
		}
		content = string(raw)
	}

	pendingKw, err := o.ensureKeywords(ctx, date, fp, content)
	if err != nil {
		return err
	}

	parsed, err := entry.Parse(content, txtPath)
	if err != nil {
		return err
	}
	candidate := entry.FromParsed(parsed, filepath.ToSlash(txtPath))

	status, err := arc.Merge(candidate, pendingKw, true)
	if err != nil {
		return err
	}
	if o.DryRun {
		o.printf("dry-run: entrada %s lista (%t contenido, %t keywords). No se escribió nada.",
			date, status.ContentChanged, status.KeywordsChanged)
		return nil
	}
	if err := arc.Save(o.ArchivePath); err != nil {
		return err
	}
	o.Log.Info("archive updated", "date", date, "exists_before", status.ExistsBefore)

	candidate.Keywords = keywords.Normalize(pendingKw.Keywords, 0)
	if err := o.Pending.WriteEntry(candidate); err != nil {
		return err
	}

	msg := commitMessage(status, false, false, true)
	return o.commitAndPush(date, txtPath, msg)
}

// Cambiar re-publishes an existing entry: applies source changes to the
// published text and/or refreshed keywords.
func (o *Orchestrator) Cambiar(ctx context.Context, date string) error {
	arc, err := archive.Load(o.ArchivePath)
	if err != nil {
		return err
	}
	old := arc.FindByDate(date)
	if old == nil {
		return fmt.Errorf("no existe entrada publicada para %s; usa 'crear'", date)
	}

	txtPath := entry.PathForDate(o.TextosDir, date)
	current := readCurrent(txtPath)

	o.printf("Entrada publicada encontrada para %s. Haciendo pull para comparar…", date)
	p, err := o.pull(ctx, date)
	if err != nil {
		return err
	}

	poemChanged, analysisChanged := diffFields(o.Out, current, p)

	txtChanged := false
	if poemChanged || analysisChanged {
		apply, err := o.Prompter.Confirm("¿Aplicar estos cambios al .txt publicado?", false)
		if err != nil {
			return err
		}
		if apply {
			if ok, err := o.Prompter.Confirm("¿Confirmas que el contenido se ve correcto?", false); err != nil {
				return err
			} else if !ok {
				o.println("OK. Cancelado.")
				return nil
			}
			if o.DryRun {
				o.printf("dry-run: no escribo %s", txtPath)
				txtChanged = true
			} else {
				existingFp, err := fingerprint.FromFile(txtPath)
				if err != nil {
					return err
				}
				if err := pending.WriteFileAtomic(txtPath, []byte(p.render(date))); err != nil {
					return err
				}
				o.printf("Actualizado: %s", txtPath)
				newFp, err := fingerprint.FromFile(txtPath)
				if err != nil {
					return err
				}
				txtChanged = existingFp != newFp
				if !txtChanged {
					txtChanged, _ = o.VCS.FileHasDiff(txtPath)
				}
			}
		} else {
			o.println("OK. No se aplicaron cambios de texto.")
		}
	} else {
		o.println("El origen coincide con el .txt publicado (sin diferencias).")
	}

	// Keywords: offer pending for this date, or regenerate.
	fileFp, err := fingerprint.FromFile(txtPath)
	if err != nil {
		return err
	}
	pendingKw, err := o.Pending.LoadKeywords()
	if err != nil {
		return err
	}
	applyKeywords := false
	if pendingKw.ValidFor(date, fileFp) == nil {
		applyKeywords, err = o.Prompter.Confirm(
			"Detecté keywords pendientes para esta fecha. ¿Publicarlas en este publish?", true)
		if err != nil {
			return err
		}
	}
	if regen, err := o.Prompter.Confirm("¿Quieres regenerar keywords?", false); err != nil {
		return err
	} else if regen {
		raw, err := os.ReadFile(txtPath)
		if err != nil {
			return fmt.Errorf("no puedo leer %s para generar keywords: %w", txtPath, err)
		}
		kws, err := o.Generator.Generate(ctx, string(raw))
		if err != nil {
			return err
		}
		if err := o.Pending.WriteKeywords(date, fileFp, kws); err != nil {
			return err
		}
		pendingKw, err = o.Pending.LoadKeywords()
		if err != nil {
			return err
		}
		applyKeywords = true
		o.println("Regeneré keywords → pending actualizado.")
	}

	if !txtChanged && !applyKeywords {
		o.println("No hay nada que publicar.")
		return nil
	}

	raw, err := os.ReadFile(txtPath)
	if err != nil {
		return err
	}
	parsed, err := entry.Parse(string(raw), txtPath)
	if err != nil {
		return err
	}
	candidate := entry.FromParsed(parsed, filepath.ToSlash(txtPath))

	status, err := arc.Merge(candidate, pendingKw, applyKeywords)
	if err != nil {
		return err
	}
	// The poem body lives in the .txt, not in the archive record, so a
	// body-only edit shows up as txtChanged with an unchanged merge status.
	if !txtChanged && !status.ContentChanged && !status.KeywordsChanged {
		o.println("No hay nada que publicar.")
		return nil
	}
	if o.DryRun {
		o.printf("dry-run: %s (%t contenido, %t keywords). No se escribió nada.",
			date, status.ContentChanged, status.KeywordsChanged)
		return nil
	}

	if err := arc.Save(o.ArchivePath); err != nil {
		return err
	}
	o.Log.Info("archive updated", "date", date,
		"content_changed", status.ContentChanged, "keywords_changed", status.KeywordsChanged)

	merged := arc.FindByDate(date)
	if err := o.Pending.WriteEntry(*merged); err != nil {
		return err
	}

	msg := commitMessage(status, poemChanged, analysisChanged, applyKeywords)
	return o.commitAndPush(date, txtPath, msg)
}

// RegenerateKeywords runs generation only, leaving the result staged for the
// next publish.
func (o *Orchestrator) RegenerateKeywords(ctx context.Context, date string) error {
	txtPath := entry.PathForDate(o.TextosDir, date)
	raw, err := os.ReadFile(txtPath)
	if err != nil {
		return fmt.Errorf("no existe %s; crea la entrada primero", txtPath)
	}
	fp, err := fingerprint.FromFile(txtPath)
	if err != nil {
		return err
	}

	kws, err := o.Generator.Generate(ctx, string(raw))
	if err != nil {
		return err
	}
	if err := o.Pending.WriteKeywords(date, fp, kws); err != nil {
		return err
	}
	o.printf("Keywords pendientes para %s (%d):", date, len(kws))
	for _, kw := range kws {
		o.printf("  - %s (%d)", kw.Word, kw.Weight)
	}
	return nil
}

// ensureKeywords returns a pending record that is valid for date+fp, reusing
// the staged one when current or generating a fresh set otherwise.
func (o *Orchestrator) ensureKeywords(ctx context.Context, date, fp, content string) (*pending.Keywords, error) {
	pendingKw, err := o.Pending.LoadKeywords()
	if err != nil {
		return nil, err
	}
	if reason := pendingKw.ValidFor(date, fp); reason == nil {
		reuse, err := o.Prompter.Confirm("Hay keywords pendientes vigentes. ¿Usarlas?", true)
		if err != nil {
			return nil, err
		}
		if reuse {
			return pendingKw, nil
		}
	} else if pendingKw != nil {
		o.printf("pending keywords no publicables: %v", reason)
	}

	if ok, err := o.Prompter.Confirm("¿Generar keywords ahora?", true); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrAborted
	}
	kws, err := o.Generator.Generate(ctx, content)
	if err != nil {
		return nil, err
	}
	if err := o.Pending.WriteKeywords(date, fp, kws); err != nil {
		return nil, err
	}
	o.Log.Debug("keywords generated", "date", date, "count", len(kws))
	return o.Pending.LoadKeywords()
}

func (o *Orchestrator) writeTxt(path, content string) error {
	if o.DryRun {
		o.printf("dry-run: no escribo %s", path)
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		overwrite, err := o.Prompter.Confirm(
			fmt.Sprintf("Ya existe %s. ¿Sobrescribir desde el origen?", path), false)
		if err != nil {
			return err
		}
		if !overwrite {
			o.println("OK. No regeneré el .txt.")
			return nil
		}
	}
	if err := pending.WriteFileAtomic(path, []byte(content)); err != nil {
		return err
	}
	o.printf("Generado: %s", path)
	return nil
}

// commitAndPush scopes the commit exactly to the publish file set, warning
// when the tree carries unrelated changes, and resets the pending store once
// the publish lands.
func (o *Orchestrator) commitAndPush(date, txtPath, msg string) error {
	branch, err := o.VCS.CurrentBranch()
	if err != nil {
		return err
	}
	if branch != o.Branch {
		cont, err := o.Prompter.Confirm(
			fmt.Sprintf("Estás en branch %q, no en %q. ¿Continuar de todos modos?", branch, o.Branch), false)
		if err != nil {
			return err
		}
		if !cont {
			o.println("OK. Cancelado.")
			return nil
		}
	}

	if err := o.warnDirtyTree(txtPath); err != nil {
		return err
	}

	o.printf("Commit: %s", msg)
	if ok, err := o.Prompter.Confirm("¿Confirmar publish (commit + push)?", false); err != nil {
		return err
	} else if !ok {
		o.println("OK. No se publicó nada.")
		return nil
	}

	// Staging files are reset before the commit so the placeholders land in it.
	if err := o.Pending.Reset(); err != nil {
		return err
	}
	files := []string{txtPath, o.ArchivePath, o.Pending.EntryPath, o.Pending.KeywordsPath}
	if err := o.VCS.Add(files...); err != nil {
		return err
	}
	if err := o.VCS.Commit(msg); err != nil {
		return err
	}
	if err := o.VCS.Push(o.Remote, branch); err != nil {
		return err
	}
	o.printf("Publicado: %s", msg)
	return nil
}

func (o *Orchestrator) warnDirtyTree(txtPath string) error {
	lines, err := o.VCS.StatusPorcelain()
	if err != nil {
		return err
	}
	allowed := map[string]bool{}
	for _, p := range []string{txtPath, o.ArchivePath, o.Pending.EntryPath, o.Pending.KeywordsPath} {
		allowed[filepath.ToSlash(p)] = true
	}

	var unrelated []string
	for _, ln := range lines {
		path := git.PathFromStatusLine(ln)
		if !allowed[path] {
			unrelated = append(unrelated, path)
		}
	}
	if len(unrelated) == 0 {
		return nil
	}

	o.println("⚠️  Tu repo tiene cambios NO relacionados con este publish:")
	for i, p := range unrelated {
		if i == 20 {
			o.printf("  ... (+%d más)", len(unrelated)-20)
			break
		}
		o.println("  - " + p)
	}
	cont, err := o.Prompter.Confirm("¿Continuar y publicar solo los archivos del publish?", false)
	if err != nil {
		return err
	}
	if !cont {
		return fmt.Errorf("cancelado: repo con cambios no relacionados")
	}
	return nil
}

// commitMessage mirrors the historical message scheme: keyword-only publishes
// say so, otherwise the changed parts are listed.
func commitMessage(status archive.Status, poemChanged, analysisChanged, keywordsApplied bool) string {
	if !status.ExistsBefore {
		subject := status.MyPoemTitle
		if subject == "" {
			subject = status.MyPoemSnippet
		}
		if subject != "" {
			return fmt.Sprintf("nueva entrada %s: %s", status.Date, subject)
		}
		return "nueva entrada " + status.Date
	}
	if keywordsApplied && !poemChanged && !analysisChanged {
		return "keywords " + status.Date
	}
	var parts []string
	if poemChanged {
		parts = append(parts, "poema")
	}
	if analysisChanged {
		parts = append(parts, "análisis")
	}
	if keywordsApplied {
		parts = append(parts, "keywords")
	}
	if len(parts) == 0 {
		return "edicion " + status.Date
	}
	return fmt.Sprintf("cambio de %s %s", strings.Join(parts, " + "), status.Date)
}

// currentPayload is the published .txt decomposed for field-level diffing.
type currentPayload struct {
	MyPoemTitle string
	Poet        string
	PoemTitle   string
	BookTitle   string
	Poem        string
	Cited       string
	Analysis    string
}

func readCurrent(txtPath string) *currentPayload {
	raw, err := os.ReadFile(txtPath)
	if err != nil {
		return &currentPayload{}
	}
	meta, sections := entry.SplitRaw(string(raw))
	return &currentPayload{
		MyPoemTitle: meta["my_poem_title"],
		Poet:        meta["poet"],
		PoemTitle:   meta["poem_title"],
		BookTitle:   meta["book_title"],
		Poem:        sections[entry.SectionPoem],
		Cited:       sections[entry.SectionCited],
		Analysis:    sections[entry.SectionAnalysis],
	}
}

// diffFields prints the per-field report and returns whether the poem side
// (poem body or own title) and the analysis side changed.
func diffFields(out io.Writer, current *currentPayload, p *pulled) (poemChanged, analysisChanged bool) {
	changed := func(a, b string) bool {
		return fingerprint.Normalize(a) != fingerprint.Normalize(b)
	}
	fields := []struct {
		name     string
		old, new string
	}{
		{"POEMA", current.Poem, p.Poem},
		{"POEMA_CITADO", current.Cited, p.Cited},
		{"TEXTO", current.Analysis, p.Analysis},
		{"MY_POEM_TITLE", current.MyPoemTitle, p.MyPoemTitle},
		{"POETA", current.Poet, p.Poet},
		{"POEM_TITLE", current.PoemTitle, p.PoemTitle},
		{"BOOK_TITLE", current.BookTitle, p.BookTitle},
	}
	diffs := map[string]bool{}
	for _, f := range fields {
		diffs[f.name] = changed(f.old, f.new)
		state := "sin cambios"
		if diffs[f.name] {
			state = "CAMBIÓ"
		}
		fmt.Fprintf(out, "  - %s: %s\n", f.name, state)
	}
	poemChanged = diffs["POEMA"] || diffs["MY_POEM_TITLE"]
	analysisChanged = diffs["POEMA_CITADO"] || diffs["TEXTO"] ||
		diffs["POETA"] || diffs["POEM_TITLE"] || diffs["BOOK_TITLE"]
	return poemChanged, analysisChanged
}

// NextDate proposes the day after the newest archive entry; empty when the
// archive has no dated entries.
func NextDate(arc *archive.Archive) string {
	var max string
	for _, e := range arc.Entries {
		if entry.DateRe.MatchString(e.Date) && e.Date > max {
			max = e.Date
		}
	}
	if max == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", max)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

func orEmpty(s string) string {
	if s == "" {
		return "(vacío)"
	}
	return s
}
