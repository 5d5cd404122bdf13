package transports

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// minChunkSize is the floor below which trailing chunks get merged
// into their neighbor.
const minChunkSize = 100

var (
	codeBlockRe = regexp.MustCompile("(?s)(```.*?```)")
	paragraphRe = regexp.MustCompile(`\n{2,}`)
	sentenceRe  = regexp.MustCompile(`([.!?])\s+`)
	clauseRe    = regexp.MustCompile(`([,;:])\s+`)
)

// width measures display width so CJK-heavy replies don't blow past
// platform limits that count cells, not bytes.
func width(s string) int {
	return runewidth.StringWidth(s)
}

// ChunkMessage splits text into delivery-sized pieces, preferring
// paragraph, then sentence, then clause, then word boundaries. Fenced
// code blocks are kept intact where possible and re-fenced when split.
func ChunkMessage(text string, limit int) []string {
	if limit <= 0 || width(text) <= limit {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, segment := range splitPreservingCode(text) {
		isCode := strings.HasPrefix(segment, "```")

		if width(current)+width(segment)+1 <= limit {
			if current == "" {
				current = segment
			} else {
				current = strings.TrimSpace(current + "\n" + segment)
			}
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
		if width(segment) <= limit {
			current = segment
			continue
		}

		var sub []string
		if isCode {
			sub = splitCodeBlock(segment, limit)
		} else {
			sub = splitProse(segment, limit)
		}
		if len(sub) > 0 {
			chunks = append(chunks, sub[:len(sub)-1]...)
			current = sub[len(sub)-1]
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return mergeShortChunks(chunks, limit)
}

// splitPreservingCode splits text into alternating prose and fenced
// code-block segments, dropping whitespace-only pieces.
func splitPreservingCode(text string) []string {
	var out []string
	last := 0
	for _, loc := range codeBlockRe.FindAllStringIndex(text, -1) {
		if prose := text[last:loc[0]]; strings.TrimSpace(prose) != "" {
			out = append(out, strings.TrimSpace(prose))
		}
		out = append(out, text[loc[0]:loc[1]])
		last = loc[1]
	}
	if tail := text[last:]; strings.TrimSpace(tail) != "" {
		out = append(out, strings.TrimSpace(tail))
	}
	return out
}

func splitProse(text string, limit int) []string {
	parts := paragraphRe.Split(text, -1)
	if len(parts) > 1 && allFit(parts, limit) {
		return recombine(parts, limit, "\n\n")
	}

	var chunks []string
	for _, part := range parts {
		if width(part) <= limit {
			chunks = append(chunks, part)
			continue
		}
		if sentences := splitAfter(part, sentenceRe); len(sentences) > 1 {
			chunks = append(chunks, recombine(sentences, limit, " ")...)
			continue
		}
		if clauses := splitAfter(part, clauseRe); len(clauses) > 1 {
			chunks = append(chunks, recombine(clauses, limit, " ")...)
			continue
		}
		chunks = append(chunks, splitByWords(part, limit)...)
	}
	return chunks
}

// splitAfter splits on a boundary regex, keeping the boundary
// punctuation attached to the preceding piece.
func splitAfter(text string, re *regexp.Regexp) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, text[last:loc[3]])
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, text[last:])
	}
	return out
}

// splitCodeBlock splits an oversized fenced block into multiple fenced
// blocks, re-opening with the original fence line.
func splitCodeBlock(block string, limit int) []string {
	lines := strings.Split(block, "\n")
	opener := "```"
	if len(lines) > 0 {
		opener = lines[0]
	}
	const closer = "```"
	var inner []string
	if len(lines) >= 2 {
		inner = lines[1 : len(lines)-1]
	}

	maxInner := limit - width(opener) - width(closer) - 2
	var (
		chunks  []string
		current []string
		curLen  int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, opener+"\n"+strings.Join(current, "\n")+"\n"+closer)
			current = nil
			curLen = 0
		}
	}
	for _, line := range inner {
		lineLen := width(line) + 1
		if curLen+lineLen > maxInner && len(current) > 0 {
			flush()
		}
		current = append(current, line)
		curLen += lineLen
	}
	flush()
	if len(chunks) == 0 {
		return []string{block}
	}
	return chunks
}

func recombine(parts []string, limit int, separator string) []string {
	var chunks []string
	current := ""
	for _, part := range parts {
		candidate := part
		if current != "" {
			candidate = current + separator + part
		}
		if width(candidate) <= limit {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if width(part) <= limit {
			current = part
		} else {
			sub := splitByWords(part, limit)
			chunks = append(chunks, sub[:len(sub)-1]...)
			current = sub[len(sub)-1]
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// splitByWords is the last resort; a single word wider than the limit
// is truncated to fit.
func splitByWords(text string, limit int) []string {
	var chunks []string
	current := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if width(candidate) <= limit {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		if width(word) <= limit {
			current = word
		} else {
			current = runewidth.Truncate(word, limit, "")
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	if len(chunks) == 0 && current == "" {
		return []string{""}
	}
	return chunks
}

func mergeShortChunks(chunks []string, limit int) []string {
	if len(chunks) == 0 {
		return chunks
	}
	merged := []string{chunks[0]}
	for _, chunk := range chunks[1:] {
		last := merged[len(merged)-1]
		if width(last) < minChunkSize && width(last)+width(chunk)+1 <= limit {
			merged[len(merged)-1] = last + "\n" + chunk
		} else {
			merged = append(merged, chunk)
		}
	}
	return merged
}

func allFit(parts []string, limit int) bool {
	for _, p := range parts {
		if width(p) > limit {
			return false
		}
	}
	return true
}
