package autemo

import (
	"errors"
	"strings"
)

// maxShoutLen is the longest message the shoutbox form accepts per submission.
const maxShoutLen = 250

// ErrMessageTooLong means a single word exceeds the per-shout limit, so the
// message cannot be split on a word boundary.
var ErrMessageTooLong = errors.New("autemo: shout contains a word longer than 250 characters")

// splitShout splits a message into whitespace-bounded chunks no longer than
// maxShoutLen, never breaking inside a word. Joining the chunks with single
// spaces reproduces the (whitespace-normalized) input.
//
// On an unsplittable word it returns the complete chunks accumulated so far
// together with ErrMessageTooLong; the pending partial chunk is dropped.
func splitShout(message string) ([]string, error) {
	var chunks []string
	cur := ""

	for _, word := range strings.Fields(message) {
		if len(word) > maxShoutLen {
			return chunks, ErrMessageTooLong
		}

		switch {
		case cur == "":
			cur = word
		case len(cur)+1+len(word) <= maxShoutLen:
			cur += " " + word
		default:
			chunks = append(chunks, cur)
			cur = word
		}
	}

	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks, nil
}
