// ABOUTME: Conversation title derivation from seed text
// ABOUTME: Shared by both backing stores so local and remote titles agree

package session

import "strings"

const (
	// DefaultTitle is used when no seed text is available.
	DefaultTitle = "New Chat"

	titleMaxTokens = 6
	titleMaxChars  = 50
)

// DeriveTitle builds a conversation title from seed text: the first six
// whitespace-separated tokens joined with single spaces, truncated to 50
// characters with an ellipsis if longer. Empty seed text yields "New Chat".
func DeriveTitle(seed string) string {
	tokens := strings.Fields(seed)
	if len(tokens) == 0 {
		return DefaultTitle
	}
	if len(tokens) > titleMaxTokens {
		tokens = tokens[:titleMaxTokens]
	}

	title := strings.Join(tokens, " ")
	if runes := []rune(title); len(runes) > titleMaxChars {
		title = string(runes[:titleMaxChars]) + "…"
	}
	return title
}
