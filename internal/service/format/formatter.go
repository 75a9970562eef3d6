// Package format turns raw model replies into transport-safe HTML chunks.
package format

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf16"
)

// DefaultMaxChunkLength matches the Telegram message size limit.
const DefaultMaxChunkLength = 4096

// BulletPrefix replaces a leading "* " list marker.
const BulletPrefix = "— "

var (
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	bulletPattern = regexp.MustCompile(`(?m)^\* `)
)

// RenderedChunk is one transport-sized piece of a formatted reply.
type RenderedChunk struct {
	Text string `json:"text"`
	// SplitOnNewline reports that a newline separated this chunk from the next
	// one and was dropped at the boundary.
	SplitOnNewline bool `json:"splitOnNewline,omitempty"`
}

// ChunkOptions tunes how hard cuts are placed.
type ChunkOptions struct {
	// AvoidTagSplit moves a hard cut back so that it does not land inside a
	// tag ("<b") or an entity ("&amp"), and does not leave a <b> span open
	// when the span starts after the beginning of the chunk. A bold span
	// longer than the whole chunk is still split.
	AvoidTagSplit bool
	// CountUTF16 measures maxChunkLength in UTF-16 code units, the unit
	// Telegram uses for its message limit, instead of runes.
	CountUTF16 bool
}

// Translate escapes the reply and converts **bold** spans and "* " bullets to
// HTML. Escaping runs first so the injected tags survive.
func Translate(reply string) string {
	escaped := html.EscapeString(reply)
	bolded := boldPattern.ReplaceAllString(escaped, "<b>$1</b>")
	return bulletPattern.ReplaceAllString(bolded, BulletPrefix)
}

// Format translates reply and splits the result into chunks of at most
// maxChunkLength runes. The second return value is the untouched reply, meant
// for speech synthesis.
func Format(reply string, maxChunkLength int) ([]RenderedChunk, string) {
	return Chunk(Translate(reply), maxChunkLength, ChunkOptions{}), reply
}

// FormatWith is Format with explicit chunking options.
func FormatWith(reply string, maxChunkLength int, opts ChunkOptions) ([]RenderedChunk, string) {
	return Chunk(Translate(reply), maxChunkLength, opts), reply
}

// Chunk splits text greedily. Each chunk ends at the last newline within the
// first maxChunkLength runes, or at exactly maxChunkLength runes when there is
// none. With CountUTF16 the limit is measured in UTF-16 code units. A
// non-positive maxChunkLength falls back to DefaultMaxChunkLength.
func Chunk(text string, maxChunkLength int, opts ChunkOptions) []RenderedChunk {
	if maxChunkLength <= 0 {
		maxChunkLength = DefaultMaxChunkLength
	}

	runes := []rune(text)
	chunks := make([]RenderedChunk, 0, len(runes)/maxChunkLength+1)

	for {
		window := fit(runes, maxChunkLength, opts.CountUTF16)
		if window >= len(runes) {
			break
		}

		if cut := lastNewline(runes, window); cut > 0 {
			chunks = append(chunks, RenderedChunk{Text: string(runes[:cut]), SplitOnNewline: true})
			runes = runes[cut+1:]
			continue
		}

		cut := window
		if opts.AvoidTagSplit {
			cut = safeCut(runes, window)
		}
		chunks = append(chunks, RenderedChunk{Text: string(runes[:cut])})
		runes = runes[cut:]
	}

	if len(runes) > 0 {
		chunks = append(chunks, RenderedChunk{Text: string(runes)})
	}
	return chunks
}

// fit returns how many leading runes fit in limit, never less than one.
func fit(runes []rune, limit int, countUTF16 bool) int {
	if !countUTF16 {
		return min(len(runes), limit)
	}
	units := 0
	for i, r := range runes {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			return max(i, 1)
		}
		units += n
	}
	return len(runes)
}

// Reassemble joins chunks back into the translated text.
func Reassemble(chunks []RenderedChunk) string {
	var builder strings.Builder
	for _, chunk := range chunks {
		builder.WriteString(chunk.Text)
		if chunk.SplitOnNewline {
			builder.WriteByte('\n')
		}
	}
	return builder.String()
}

// Texts returns the chunk texts in order.
func Texts(chunks []RenderedChunk) []string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return texts
}

// lastNewline returns the index of the last newline at or before limit, or -1.
func lastNewline(runes []rune, limit int) int {
	if limit >= len(runes) {
		limit = len(runes) - 1
	}
	for i := limit; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// safeCut backs a hard cut off an open tag ("<b", "</b"), an entity
// ("&am") or an unclosed <b> span. Cuts that would empty the chunk are skipped.
func safeCut(runes []rune, limit int) int {
	cut := limit
	if i := openTag(runes, cut); i > 0 {
		cut = i
	}
	if i := openEntity(runes, cut); i > 0 {
		cut = i
	}
	if i := openBold(runes, cut); i > 0 {
		cut = i
	}
	return cut
}

func openTag(runes []rune, limit int) int {
	for i := limit - 1; i >= 0; i-- {
		switch runes[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}

// html.EscapeString emits at most five-rune entities ("&#39;").
const maxEntityLen = 5

func openEntity(runes []rune, limit int) int {
	for i := limit - 1; i >= 0 && i >= limit-maxEntityLen; i-- {
		switch runes[i] {
		case ';', ' ', '\n':
			return -1
		case '&':
			return i
		}
	}
	return -1
}

func openBold(runes []rune, limit int) int {
	chunk := string(runes[:limit])
	if strings.Count(chunk, "<b>") <= strings.Count(chunk, "</b>") {
		return -1
	}
	return len([]rune(chunk[:strings.LastIndex(chunk, "<b>")]))
}
