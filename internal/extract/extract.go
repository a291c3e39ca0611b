// Package extract pulls file payloads out of assistant prose. Agents
// have embedded generated files in several formats over time: explicit
// file tags, a heading followed by a fenced code block, tree-structure
// listings, and JSON path-to-content maps. Formats are attempted in
// that fixed order and the first one producing a result wins, so the
// same file is never harvested twice under two heuristics.
package extract

import (
	"encoding/json"
	"log"
	"regexp"
	"sort"
	"strings"
)

// File is one extracted file payload. Content is empty for formats
// that only name paths, such as tree listings.
type File struct {
	Path    string
	Content string
}

// format is one extraction heuristic. Returning an empty slice means
// the prose does not use this format; the next one is tried.
type format struct {
	name string
	run  func(string) []File
}

var formats = []format{
	{name: "tagged", run: extractTagged},
	{name: "heading", run: extractHeadingBlocks},
	{name: "tree", run: extractTree},
	{name: "json", run: extractJSON},
}

// Files extracts file payloads from assistant prose. Formats run in
// priority order; the first non-empty result is returned. A panic in
// one format is contained and logged, and extraction moves on.
func Files(prose string) []File {
	for _, f := range formats {
		if out := runFormat(f, prose); len(out) > 0 {
			return out
		}
	}
	return nil
}

func runFormat(f format, prose string) (out []File) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[extract] %s format failed: %v", f.name, r)
			out = nil
		}
	}()
	return f.run(prose)
}

// taggedRe matches <file path="...">body</file> blocks.
var taggedRe = regexp.MustCompile(`(?s)<file\s+path="([^"]+)"\s*>\n?(.*?)</file>`)

func extractTagged(prose string) []File {
	var out []File
	for _, m := range taggedRe.FindAllStringSubmatch(prose, -1) {
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		out = append(out, File{Path: path, Content: strings.TrimSuffix(m[2], "\n")})
	}
	return out
}

// headingRe matches a heading or bold line naming a file, followed by
// a fenced code block. The heading must contain something that looks
// like a filename with an extension.
var headingRe = regexp.MustCompile("(?m)^(?:#{1,6}\\s+|\\*\\*)`?([\\w./-]+\\.\\w+)`?\\*{0,2}\\s*$\\n+```[\\w-]*\\n((?s:.*?))```")

func extractHeadingBlocks(prose string) []File {
	var out []File
	for _, m := range headingRe.FindAllStringSubmatch(prose, -1) {
		out = append(out, File{
			Path:    strings.TrimSpace(m[1]),
			Content: strings.TrimSuffix(m[2], "\n"),
		})
	}
	return out
}

// treeLineRe matches one entry of a box-drawing tree listing.
var treeLineRe = regexp.MustCompile(`^([\x{2502}\s]*)(?:├──|└──|\x{251c}\x{2500}\x{2500}|\x{2514}\x{2500}\x{2500})\s*(.+?)/?\s*$`)

// extractTree parses box-drawing tree listings into paths. Depth is
// inferred from the indentation prefix; directories are lines whose
// name ends in a slash or that have children. Tree listings carry no
// content.
func extractTree(prose string) []File {
	var out []File
	var stack []string
	rootDepth := 0

	for _, line := range strings.Split(prose, "\n") {
		m := treeLineRe.FindStringSubmatch(line)
		if m == nil {
			// A bare root line like "my-plugin/" restarts the stack.
			trimmed := strings.TrimSpace(line)
			if strings.HasSuffix(trimmed, "/") && !strings.ContainsAny(trimmed, " \t") && trimmed != "/" {
				stack = []string{strings.TrimSuffix(trimmed, "/")}
				rootDepth = 1
			}
			continue
		}

		// Each tree level indents by four columns.
		depth := len([]rune(m[1]))/4 + 1
		name := strings.TrimSpace(m[2])
		if name == "" {
			continue
		}

		idx := rootDepth + depth - 1
		if idx > len(stack) {
			idx = len(stack)
		}
		stack = append(stack[:idx], name)

		// Only leaf files with an extension are reported; directory
		// lines exist to build prefixes.
		if strings.Contains(name, ".") {
			out = append(out, File{Path: strings.Join(stack, "/")})
		}
	}
	return out
}

// jsonBlobRe finds fenced or bare JSON objects in prose.
var jsonBlobRe = regexp.MustCompile("(?s)```(?:json)?\\n(\\{.*?\\})\\n```|(\\{[^`]*\\})")

// extractJSON handles two shapes: {"files": {path: content, ...}} and
// a bare path-to-content object whose keys look like file paths.
func extractJSON(prose string) []File {
	for _, m := range jsonBlobRe.FindAllStringSubmatch(prose, -1) {
		blob := m[1]
		if blob == "" {
			blob = m[2]
		}

		var wrapper struct {
			Files map[string]string `json:"files"`
		}
		if err := json.Unmarshal([]byte(blob), &wrapper); err == nil && len(wrapper.Files) > 0 {
			return mapToFiles(wrapper.Files)
		}

		var direct map[string]string
		if err := json.Unmarshal([]byte(blob), &direct); err == nil {
			if files := mapToFiles(direct); len(files) > 0 {
				return files
			}
		}
	}
	return nil
}

// mapToFiles converts a path-to-content map, keeping only keys that
// plausibly name files, in sorted order for determinism.
func mapToFiles(m map[string]string) []File {
	paths := make([]string, 0, len(m))
	for p := range m {
		if looksLikePath(p) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	out := make([]File, 0, len(paths))
	for _, p := range paths {
		out = append(out, File{Path: p, Content: m[p]})
	}
	return out
}

func looksLikePath(p string) bool {
	if p == "" || strings.ContainsAny(p, " \t\n") {
		return false
	}
	dot := strings.LastIndex(p, ".")
	return dot > 0 && dot < len(p)-1
}
