package sandbox

import "strings"

// sanitize normalizes a model-supplied path before it is resolved against a
// project root: strip surrounding quotes/backticks/whitespace
// the model sometimes wraps paths in, drop leading "./" and "/", and normalize
// Windows-style separators, repeating until the path stops changing.
// Idempotent: sanitize(sanitize(x)) == sanitize(x).
func sanitize(path string) string {
	for {
		next := strings.TrimSpace(path)
		next = strings.Trim(next, "`'\"")
		next = strings.TrimSpace(next)
		next = strings.ReplaceAll(next, "\\", "/")
		next = strings.TrimPrefix(next, "./")
		next = strings.TrimPrefix(next, "/")
		if next == path {
			return path
		}
		path = next
	}
}
