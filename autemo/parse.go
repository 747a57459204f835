package autemo

import (
	"strings"
	"time"

	"autemo-sync/pkg/shout"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// postTimeLayout matches the shoutbox date header, e.g. "Sunday Dec 20, 14:03:22".
// The remote omits the year entirely.
const postTimeLayout = "Monday Jan 2, 15:04:05"

// parsePosts extracts every shoutbox post from a fetched yshout.php document,
// in document order (oldest to newest as rendered). Elements whose date header
// cannot be parsed are dropped.
func parsePosts(doc *goquery.Document, now time.Time) []*shout.Post {
	var posts []*shout.Post

	doc.Find(".ys-post").Each(func(_ int, sel *goquery.Selection) {
		ts, err := parsePostTime(sel.Find(".ys-post-info").First().Text(), now)
		if err != nil {
			return
		}

		msgSel := sel.Find(".ys-post-message").First()
		htmlBody, err := msgSel.Html()
		if err != nil {
			return
		}

		posts = append(posts, &shout.Post{
			Author: parseAuthor(sel),
			Message: shout.Message{
				HTML: strings.TrimSpace(htmlBody),
				Text: strings.TrimSpace(msgSel.Text()),
				Kind: classifyKind(ownText(sel), sel.HasClass("ys-isglobal")),
			},
			Timestamp: ts,
		})
	})

	return posts
}

// parseAuthor extracts the author from a post element, or nil when the line is
// rendered without a nickname (generated announcements, global notices).
func parseAuthor(sel *goquery.Selection) *shout.Author {
	nick := sel.Find(".ys-post-nickname").First()
	if nick.Length() == 0 {
		return nil
	}

	role := shout.RoleUser
	switch {
	case hasClassDeep(nick, "autemo_admin_color"):
		role = shout.RoleAdmin
	case hasClassDeep(nick, "autemo_color"):
		role = shout.RoleModerator
	}

	return &shout.Author{
		Name:      strings.TrimSpace(nick.Text()),
		AvatarURL: nick.Find("img").First().AttrOr("src", ""),
		Role:      role,
	}
}

// classifyKind maps the fixed English template text surrounding a post to its
// event kind. The phrases are server-rendered presentation text, so anything
// unrecognized is an explicit KindUnknown rather than a guess.
func classifyKind(own string, isGlobal bool) shout.Kind {
	switch {
	case own == "says:":
		return shout.KindShout
	case isGlobal:
		return shout.KindGlobal
	case own == "just started a new thread:":
		return shout.KindThread
	case own == "just got a new chopping award in:":
		return shout.KindAward
	case own == "just created a new competition:":
		return shout.KindCompetition
	case own == "Just got Promoted":
		return shout.KindPromotion
	default:
		return shout.KindUnknown
	}
}

// parsePostTime resolves the year-less shoutbox date. The remote renders only
// weekday, month, day and time; if the parsed month is chronologically after
// the current month the post is assumed to be from the previous year, which
// keeps December messages read in January from jumping a year into the future.
func parsePostTime(raw string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(postTimeLayout, strings.TrimSpace(raw), now.Location())
	if err != nil {
		return time.Time{}, err
	}

	year := now.Year()
	if t.Month() > now.Month() {
		year--
	}

	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
}

// ownText returns the text held directly by the selection's first node,
// excluding descendant elements. The shoutbox puts the template phrase
// ("says:", "just started a new thread:") in the post element itself.
func ownText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}

	var b strings.Builder
	for c := sel.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

// hasClassDeep reports whether the selection or any of its descendants
// carries the given class.
func hasClassDeep(sel *goquery.Selection, class string) bool {
	return sel.HasClass(class) || sel.Find("."+class).Length() > 0
}
