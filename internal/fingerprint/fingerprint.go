// Package fingerprint computes the stable content hash used to detect drift
// between the pulled documents and the published entry text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// Separator joins the three normalized sections before hashing.
const Separator = "\n\n---\n\n"

// Normalize converts line endings to \n, right-trims every line and drops
// leading/trailing blank lines. Two texts that differ only in trailing
// whitespace or blank-line padding normalize to the same string.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Fingerprint hashes the normalized concatenation of the three entry sections.
// Equality holds iff the sections are textually equal after Normalize.
func Fingerprint(poem, cited, analysis string) string {
	payload := Normalize(poem) + Separator + Normalize(cited) + Separator + Normalize(analysis)
	sum := sha256.Sum256([]byte(payload))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// FromSections is Fingerprint over a section map keyed by the canonical
// section names (POEMA, POEMA_CITADO, TEXTO).
func FromSections(sections map[string]string) string {
	return Fingerprint(sections["POEMA"], sections["POEMA_CITADO"], sections["TEXTO"])
}

// FromFile fingerprints the three sections of an entry text file.
// Returns "" when the file does not exist.
func FromFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return Fingerprint(
		ExtractSection(string(raw), "# POEMA"),
		ExtractSection(string(raw), "# POEMA_CITADO"),
		ExtractSection(string(raw), "# TEXTO"),
	), nil
}

// ExtractSection returns the lines between an exact header line and the next
// "# " header or end of text. Empty string when the header is absent.
func ExtractSection(txt, header string) string {
	txt = strings.ReplaceAll(txt, "\r\n", "\n")
	txt = strings.ReplaceAll(txt, "\r", "\n")
	lines := strings.Split(txt, "\n")

	start := -1
	for i, ln := range lines {
		if ln == header {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}
	var out []string
	for _, ln := range lines[start:] {
		if strings.HasPrefix(ln, "# ") {
			break
		}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}
