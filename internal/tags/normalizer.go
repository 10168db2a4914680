// Package tags canonicalizes free-form tags to a controlled vocabulary.
//
// Retrieval quality depends on synonymous labels ("auth", "jwt", "oauth")
// collapsing to one key before they reach the store or the retriever.
// Normalization is pure and idempotent: normalizing an already-canonical
// tag returns it unchanged.
package tags

import "strings"

// synonyms maps canonical tag -> accepted synonyms. All entries are
// lower-case; lookup happens after lower-casing and trimming the input.
var synonyms = map[string][]string{
	"auth":          {"authentication", "authorization", "jwt", "oauth", "oauth2", "login", "signin"},
	"database":      {"db", "sql", "sqlite", "postgres", "postgresql", "mysql", "storage"},
	"http":          {"rest", "api", "endpoint", "handler", "route", "routing"},
	"test":          {"tests", "testing", "unittest", "unit-test", "spec"},
	"config":        {"configuration", "settings", "env", "environment"},
	"error":         {"errors", "error-handling", "exception", "exceptions"},
	"logging":       {"log", "logs", "logger", "tracing"},
	"frontend":      {"ui", "view", "template", "css", "html"},
	"refactor":      {"refactoring", "cleanup", "restructure"},
	"performance":   {"perf", "optimization", "optimize", "speed"},
	"concurrency":   {"async", "parallel", "goroutine", "threading"},
	"validation":    {"validate", "validator", "sanitize", "sanitization"},
	"serialization": {"json", "yaml", "marshal", "encoding"},
	"dependency":    {"deps", "dependencies", "import", "imports"},
}

// canonical is the inverted synonym index, built once at init.
// Canonical keys map to themselves so Normalize is idempotent.
var canonical = buildIndex()

func buildIndex() map[string]string {
	idx := make(map[string]string, len(synonyms)*4)
	for canon, syns := range synonyms {
		idx[canon] = canon
		for _, s := range syns {
			idx[s] = canon
		}
	}
	return idx
}

// Normalize returns the canonical form of a tag.
//
// Input is lower-cased and trimmed. If the result matches a known synonym,
// the canonical key is returned; unknown tags pass through unchanged rather
// than being rejected.
func Normalize(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	if canon, ok := canonical[t]; ok {
		return canon
	}
	return t
}

// NormalizeAll normalizes a slice of tags, dropping empty results and
// duplicates while preserving first-seen order.
func NormalizeAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, tag := range in {
		n := Normalize(tag)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
