// Package tgtext implements the small text-normalization helpers shared by
// the chat cache and the Scanner, grounded on tg/utils/__init__.py.
package tgtext

import (
	"regexp"
	"strings"
)

// nicknamePattern matches a bare @username mention.
var nicknamePattern = regexp.MustCompile(`@[A-Za-z0-9_]{5,32}`)

// linkPattern matches a t.me/username profile link, capturing the username.
var linkPattern = regexp.MustCompile(`https://t\.me/([A-Za-z0-9_]{5,32})`)

// EnsureAtSingle normalizes a single chat identifier to lowercase with a
// leading "@", e.g. "Durov" -> "@durov". Every input gets the prefix,
// numeric chat ids included ("-100123" -> "@-100123").
func EnsureAtSingle(s string) string {
	s = strings.ToLower(s)
	if strings.HasPrefix(s, "@") {
		return s
	}
	return "@" + s
}

// EnsureAts applies EnsureAtSingle to every element of strs, returning the
// deduplicated set.
func EnsureAts(strs []string) []string {
	seen := make(map[string]struct{}, len(strs))
	out := make([]string, 0, len(strs))
	for _, s := range strs {
		normalized := EnsureAtSingle(s)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// GetNicknames extracts every @username mention and t.me/username link from
// text, normalizing each to EnsureAtSingle form and deduplicating the union.
func GetNicknames(text string) []string {
	var found []string
	found = append(found, nicknamePattern.FindAllString(text, -1)...)
	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		found = append(found, m[1])
	}
	return EnsureAts(found)
}
