// Package extractor implements the File Extractor: a
// fallback recovery path that scans a dev agent's full response text for
// write_file intents when the Agent Runner reported zero native
// write_file/write_files tool results.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// File is one recovered write_file intent, ready to hand to the Tool
// Sandbox the same way a native write_file call would be.
type File struct {
	Path    string
	Content string
}

var toolCallBlock = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

// Extract scans text for <tool_call>...</tool_call> blocks naming
// write_file, in priority order: strict JSON parse, then a repaired parse
// (raw newlines inside string literals escaped), then a regex recovery that
// pulls path/content fields directly out of the block body. Recovered files
// are post-processed (BOM/CRLF normalization, ./ stripping, dedup by first
// occurrence, path-escape rejection) before being returned.
func Extract(text string) []File {
	var out []File
	seen := make(map[string]struct{})

	for _, m := range toolCallBlock.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		f, ok := parseWriteFileCall(body)
		if !ok {
			continue
		}
		f.Path = normalizePath(f.Path)
		f.Content = normalizeContent(f.Content)
		if f.Path == "" || escapesRoot(f.Path) {
			continue
		}
		if _, dup := seen[f.Path]; dup {
			continue
		}
		seen[f.Path] = struct{}{}
		out = append(out, f)
	}
	return out
}

type writeFileCall struct {
	Name       string `json:"name"`
	Parameters struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"parameters"`
}

func parseWriteFileCall(body string) (File, bool) {
	if f, ok := tryParse(body); ok {
		return f, true
	}
	if f, ok := tryParse(repairRawNewlines(body)); ok {
		return f, true
	}
	return regexRecover(body)
}

func tryParse(body string) (File, bool) {
	var call writeFileCall
	if err := json.Unmarshal([]byte(body), &call); err != nil {
		return File{}, false
	}
	if call.Name != "write_file" {
		return File{}, false
	}
	return File{Path: call.Parameters.Path, Content: call.Parameters.Content}, true
}

// repairRawNewlines escapes literal newlines that appear inside a JSON
// string literal, which some models emit verbatim inside "content" values
// and which encoding/json otherwise rejects as invalid.
func repairRawNewlines(body string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			b.WriteRune(r)
			escaped = true
		case r == '"':
			b.WriteRune(r)
			inString = !inString
		case inString && r == '\n':
			b.WriteString(`\n`)
		case inString && r == '\r':
			// dropped; \n handles the line break
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	pathField    = regexp.MustCompile(`"path"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	contentField = regexp.MustCompile(`(?s)"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	nameField    = regexp.MustCompile(`"name"\s*:\s*"write_file"`)
)

// regexRecover extracts path/content fields directly when the block body is
// not valid JSON even after repair, e.g. unescaped quotes inside content.
func regexRecover(body string) (File, bool) {
	if !nameField.MatchString(body) {
		return File{}, false
	}
	pm := pathField.FindStringSubmatch(body)
	cm := contentField.FindStringSubmatch(body)
	if pm == nil || cm == nil {
		return File{}, false
	}
	return File{Path: unescapeJSONString(pm[1]), Content: unescapeJSONString(cm[1])}, true
}

func unescapeJSONString(s string) string {
	var decoded string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &decoded); err == nil {
		return decoded
	}
	return s
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "﻿")
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	return strings.TrimSpace(p)
}

func normalizeContent(c string) string {
	c = strings.TrimPrefix(c, "﻿")
	c = strings.ReplaceAll(c, "\r\n", "\n")
	c = strings.ReplaceAll(c, "\r", "\n")
	return c
}

// escapesRoot reports whether a cleaned relative path would resolve outside
// a project root. The Tool Sandbox re-validates independently when the file is
// actually written; this is a first pass so the recovered list never
// contains an obviously unsafe entry.
func escapesRoot(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "..":
			depth--
		case ".", "":
			// no-op
		default:
			depth++
		}
		if depth < 0 {
			return true
		}
	}
	return false
}
