// Package shout contains the core domain types for the autemo shoutbox sync service.
package shout

import "time"

// Role is the privilege level of an author, as rendered by the shoutbox markup.
// Higher privilege sorts first.
type Role int

const (
	RoleAdmin Role = iota
	RoleModerator
	RoleUser
)

// String returns the stable storage name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleModerator:
		return "MODERATOR"
	default:
		return "USER"
	}
}

// RoleFromString maps a stored role name back to a Role. Unknown names
// degrade to RoleUser.
func RoleFromString(s string) Role {
	switch s {
	case "ADMIN":
		return RoleAdmin
	case "MODERATOR":
		return RoleModerator
	default:
		return RoleUser
	}
}

// Kind classifies what kind of event a shoutbox line represents. The remote
// system renders generated announcements (new thread, award, competition,
// promotion) into the same stream as user shouts.
type Kind int

const (
	KindUnknown Kind = iota
	KindShout
	KindThread
	KindAward
	KindGlobal
	KindCompetition
	KindPromotion
)

// String returns the stable storage name of the kind.
func (k Kind) String() string {
	switch k {
	case KindShout:
		return "SHOUT"
	case KindThread:
		return "THREAD"
	case KindAward:
		return "AWARD"
	case KindGlobal:
		return "GLOBAL"
	case KindCompetition:
		return "COMPETITION"
	case KindPromotion:
		return "PROMOTION"
	default:
		return "UNKNOWN"
	}
}

// KindFromString maps a stored kind name back to a Kind.
func KindFromString(s string) Kind {
	switch s {
	case "SHOUT":
		return KindShout
	case "THREAD":
		return KindThread
	case "AWARD":
		return KindAward
	case "GLOBAL":
		return KindGlobal
	case "COMPETITION":
		return KindCompetition
	case "PROMOTION":
		return KindPromotion
	default:
		return KindUnknown
	}
}

// Author is a community member as seen in a scrape. Identity is the name,
// which is unique within the remote community.
type Author struct {
	Name      string
	AvatarURL string
	Role      Role
}

// Message is the textual payload of one chat event, both as the raw HTML
// fragment and as plain text with markup stripped.
type Message struct {
	HTML string
	Text string
	Kind Kind
}

// Post is one observed chat-stream event. Author is nil for lines the
// remote renders without a nickname (e.g. global announcements).
// Natural identity for dedup is (Timestamp, Message.HTML).
type Post struct {
	Author    *Author
	Message   Message
	Timestamp time.Time
}

// Before reports whether p was observed before other, comparing timestamps.
func (p *Post) Before(other *Post) bool {
	return p.Timestamp.Before(other.Timestamp)
}
