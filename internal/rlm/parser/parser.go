// Package parser extracts language-tagged code blocks from free text.
package parser

import (
	"regexp"
	"sort"
	"strings"
)

// Block is a single extracted code block: its normalized language tag and
// trimmed source.
type Block struct {
	Language string
	Source   string
}

var (
	backtickFence = regexp.MustCompile("(?s)```([^\n`]*)\n(.*?)```")
	tildeFence    = regexp.MustCompile(`(?s)~~~([^\n]*)\n(.*?)~~~`)
)

// supported is the whitelist of runtimes the rest of the engine knows how
// to execute. Anything else is discarded.
var supported = map[string]bool{
	"python":     true,
	"rust":       true,
	"java":       true,
	"javascript": true,
	"bash":       true,
}

// aliases maps shorthand language tags to their canonical runtime name.
var aliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"python2": "python",
	"js":      "javascript",
	"rs":      "rust",
	"sh":      "bash",
	"shell":   "bash",
}

// Normalize lowercases a language tag and applies the alias map.
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if alias, ok := aliases[tag]; ok {
		return alias
	}
	return tag
}

// IsSupported reports whether a normalized language tag has an executor.
func IsSupported(lang string) bool {
	return supported[lang]
}

// Extract scans text for fenced code blocks (backtick or tilde), normalizes
// each block's language tag, and drops blocks with an unsupported or
// missing language. Extraction is a pure function: deterministic, O(n) over
// input length, and preserves the textual order of blocks, regardless of
// fence style — a tilde block followed by a backtick block followed by
// another tilde block comes back in that same order. The first closing
// fence for a block terminates it; nested fences are not recovered.
func Extract(text string) []Block {
	type match struct {
		start int
		m     []string
	}
	var matches []match
	for _, idx := range backtickFence.FindAllStringSubmatchIndex(text, -1) {
		matches = append(matches, match{start: idx[0], m: []string{text[idx[0]:idx[1]], text[idx[2]:idx[3]], text[idx[4]:idx[5]]}})
	}
	for _, idx := range tildeFence.FindAllStringSubmatchIndex(text, -1) {
		matches = append(matches, match{start: idx[0], m: []string{text[idx[0]:idx[1]], text[idx[2]:idx[3]], text[idx[4]:idx[5]]}})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var blocks []Block
	for _, mm := range matches {
		if b, ok := toBlock(mm.m[1], mm.m[2]); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func toBlock(langTag, source string) (Block, bool) {
	lang := Normalize(langTag)
	if !IsSupported(lang) {
		return Block{}, false
	}
	return Block{Language: lang, Source: strings.TrimSpace(source)}, true
}
