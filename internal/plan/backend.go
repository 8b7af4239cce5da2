package plan

import (
	"encoding/json"
	"regexp"
	"strings"
)

type researchDoc struct {
	Features []struct {
		Name            string `json:"name"`
		RequiresBackend bool   `json:"requires_backend"`
	} `json:"features"`
}

// backendKeywords are the regex fallback used when research JSON does not
// parse.
var backendKeywords = regexp.MustCompile(`(?i)\b(api route|server-side|database|express)\b`)

// noBackendGuard matches phrasing that explicitly disclaims a backend, a
// false-positive guard over backendKeywords.
var noBackendGuard = regexp.MustCompile(`(?i)no backend needed`)

// needsBackend decides whether the Build DAG should include backend-dev.
// Research JSON is authoritative when it parses; otherwise it falls back to
// keyword matching over the raw text, guarded against an explicit
// disclaimer.
//
// `needsBackend("needs a REST endpoint")` is documented as false — "rest endpoint" alone, without a more specific keyword
// such as "api route" or "database", is not in backendKeywords for that
// reason.
func needsBackend(researchJSON string) bool {
	if researchJSON == "" {
		return false
	}
	var doc researchDoc
	if err := json.Unmarshal([]byte(researchJSON), &doc); err == nil {
		for _, f := range doc.Features {
			if f.RequiresBackend {
				return true
			}
		}
		if len(doc.Features) > 0 {
			return false
		}
	}
	if noBackendGuard.MatchString(researchJSON) {
		return false
	}
	return backendKeywords.MatchString(researchJSON)
}

// hasContentJSON reports whether s parses as a non-empty JSON value,
// distinguishing "no research yet" from "research said nothing relevant".
func hasContentJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}
