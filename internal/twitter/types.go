// Package twitter provides the HTTP client for the slice of the Twitter v2
// API the agent needs: polling mentions and posting replies.
package twitter

import "regexp"

// Tweet is a single inbound tweet. Immutable once fetched.
type Tweet struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
}

// MentionBatch is the result of one mention fetch: the tweets plus the
// author directory resolved from the response includes.
type MentionBatch struct {
	Tweets []Tweet
	Users  map[string]string // author id -> display name
}

var mentionPrefix = regexp.MustCompile(`^@\w+\s+`)

// StripMention removes the leading @handle from a mention's raw text so the
// remainder can be fed to the conversation as the user's message.
func StripMention(text string) string {
	return mentionPrefix.ReplaceAllString(text, "")
}
