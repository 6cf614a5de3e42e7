// Package tgurl parses t.me message links, grounded on
// tg/utils/__init__.py's parse_telegram_message_url.
package tgurl

import (
	"fmt"
	"strconv"
	"strings"
)

// StructuralError means the URL is not a usable t.me message link (wrong
// host, empty chat segment, non-positive message id). ParseError means a
// value inside it could not be read (missing or non-integer message id).
// Callers that need to tell "not a t.me link" apart from
// "malformed t.me link" can use errors.As against these.
type StructuralError struct{ URL string }

func (e *StructuralError) Error() string {
	return fmt.Sprintf("tgurl: %q is not a t.me message link", e.URL)
}

type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tgurl: %q: %s", e.URL, e.Reason)
}

// Parse accepts "t.me/<user>/<id>", "t.me/<user>/<thread>/<id>",
// "t.me/c/<channel>/<id>" and "t.me/c/<channel>/<thread>/<id>", optionally
// prefixed with "https://", and returns (chatID, messageID). chatID is the
// user or channel segment; messageID is always the last path segment, which
// must parse as a positive integer.
func Parse(url string) (chatID string, messageID int, err error) {
	trimmed := strings.TrimPrefix(url, "https://")

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] != "t.me" {
		return "", 0, &StructuralError{URL: url}
	}

	var idSegment string
	switch {
	case len(parts) >= 3 && parts[1] == "c":
		if len(parts) < 4 {
			return "", 0, &StructuralError{URL: url}
		}
		chatID = parts[2]
		idSegment = parts[len(parts)-1]
	case len(parts) >= 3:
		chatID = parts[1]
		idSegment = parts[len(parts)-1]
	default:
		// len(parts) == 2: "t.me/username" with no message id at all.
		return "", 0, &ParseError{URL: url, Reason: "missing message id segment"}
	}

	if chatID == "" {
		return "", 0, &StructuralError{URL: url}
	}
	if idSegment == "" {
		return "", 0, &ParseError{URL: url, Reason: "missing message id segment"}
	}

	messageID, convErr := strconv.Atoi(idSegment)
	if convErr != nil {
		return "", 0, &ParseError{URL: url, Reason: "message id is not an integer"}
	}
	if messageID <= 0 {
		return "", 0, &StructuralError{URL: url}
	}

	return chatID, messageID, nil
}
