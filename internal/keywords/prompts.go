package keywords

import (
	"regexp"
	"strings"
)

// PromptBuilder assembles the generation prompt and trims the entry text to a
// reasonable token footprint before it is sent to the model.
type PromptBuilder struct {
	// MaxTextoChars soft-caps the TEXTO section; 0 uses DefaultMaxTextoChars.
	MaxTextoChars int
}

const DefaultMaxTextoChars = 1800

const systemInstruction = "Responde SOLO con JSON válido según el schema. Sin explicaciones."

const instructions = `Eres un lector crítico de poesía y ensayo literario.
Tu tarea no es resumir ni describir textos, sino extraer núcleos conceptuales.

Recibirás un texto compuesto por hasta tres bloques:
- POEMA (núcleo semántico soberano)
- POEMA_CITADO (resonancia o contrapunto)
- TEXTO (lectura crítica; nunca fuente dominante)

REGLAS OBLIGATORIAS:

1. PRIORIDAD DEL POEMA
El POEMA define el campo conceptual aunque sea breve.
El TEXTO solo puede articular, reforzar o afinar conceptos ya presentes,
directa o metafóricamente, en el POEMA.

2. PROHIBICIÓN DE LITERALIDAD CONCEPTUAL
Palabras que designen objetos, acciones o situaciones literales
solo pueden aparecer con weight: 1. Nunca con weight: 3.

3. ABSTRACCIÓN FORZADA
Las keywords con weight: 3 deben ser conceptos abstractos que expliquen
por qué ocurre algo, no qué ocurre.

4. INVERSIÓN POÉTICA
Si el poema invierte un valor común (ej.: vacío como potencia, silencio
como acción), esa inversión debe aparecer explícitamente en weight: 3.

5. EVITAR EMOCIONES GENÉRICAS
No usar palabras vagas como "tristeza", "calma", "resiliencia", salvo que
estén conceptualmente trabajadas y sean estructurales.

6. ANCLAJE SIMBÓLICO
Todo concepto abstracto debe poder rastrearse en una operación corporal,
material o lingüística del poema.

DISTRIBUCIÓN DE PESOS:
- weight: 3 -> núcleos conceptuales (máx. 6)
- weight: 2 -> dinámicas, tensiones, procesos
- weight: 1 -> campo semántico literal o figurativo

FORMATO DE SALIDA (OBLIGATORIO):
- Minúsculas, sin acentos
- Salida única en JSON: {"keywords": [{"word": "...", "weight": 3}]}

RESTRICCIONES FINALES:
- No explicar, no justificar, no citar versos, no incluir metadatos
- No repetir keywords con variaciones triviales`

// BuildPrompt returns the full user prompt for one entry text.
func (pb *PromptBuilder) BuildPrompt(entryText string) string {
	text := StripLeadingMetadata(entryText)
	text = pb.trimTexto(text)
	return instructions + "\n\n---\n\nTEXTO COMPLETO:\n" + strings.TrimSpace(text)
}

var metaKeyRe = regexp.MustCompile(`^[A-Z_]+$`)

// StripLeadingMetadata removes the KEY: value block that precedes the first
// section header, keeping the sections themselves untouched.
func StripLeadingMetadata(raw string) string {
	lines := strings.Split(raw, "\n")
	i := 0
	for i < len(lines) {
		s := strings.TrimSpace(lines[i])
		if s == "" {
			i++
			continue
		}
		if strings.HasPrefix(s, "#") {
			break
		}
		if key, _, ok := strings.Cut(s, ":"); ok && metaKeyRe.MatchString(strings.TrimSpace(key)) {
			i++
			continue
		}
		break
	}
	return strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^#\s*(POEMA|POEMA_CITADO|TEXTO)\s*$`)

// trimTexto shrinks the TEXTO section: when it has more than three paragraphs
// only the first and last survive, then a soft character cap is applied.
// Other sections pass through unchanged.
func (pb *PromptBuilder) trimTexto(fullText string) string {
	maxChars := pb.MaxTextoChars
	if maxChars <= 0 {
		maxChars = DefaultMaxTextoChars
	}

	matches := sectionHeaderRe.FindAllStringSubmatchIndex(fullText, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(fullText)
	}

	var segments []string
	if pre := strings.TrimSpace(fullText[:matches[0][0]]); pre != "" {
		segments = append(segments, pre)
	}
	for i, m := range matches {
		header := strings.TrimSpace(fullText[m[0]:m[1]])
		name := fullText[m[2]:m[3]]
		end := len(fullText)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(fullText[m[1]:end])

		if name == "TEXTO" {
			body = trimParagraphs(body)
			if len(body) > maxChars {
				body = strings.TrimRight(body[:maxChars], " \t\n")
			}
		}
		if body == "" {
			segments = append(segments, header)
		} else {
			segments = append(segments, header+"\n\n"+body)
		}
	}
	return strings.Join(segments, "\n\n")
}

func trimParagraphs(text string) string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}
	if len(paragraphs) <= 3 {
		return strings.TrimSpace(text)
	}
	return paragraphs[0] + "\n\n" + paragraphs[len(paragraphs)-1]
}
