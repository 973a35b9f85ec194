package board

// AccessLevel is ordered: none < read < write < admin.
type AccessLevel string

const (
	AccessNone  AccessLevel = "none"
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
	AccessAdmin AccessLevel = "admin"
)

func (l AccessLevel) rank() int {
	switch l {
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	case AccessAdmin:
		return 3
	default:
		return 0
	}
}

// Allows reports whether l is at least min.
func (l AccessLevel) Allows(min AccessLevel) bool {
	return l.rank() >= min.rank()
}

// AccessPolicy is replaced as a whole by board.setAccessPolicy and never
// modified in place.
type AccessPolicy struct {
	Public AccessLevel            `json:"public"`
	Users  map[string]AccessLevel `json:"users,omitempty"`
}

// LevelFor resolves the effective level of a user. A nil policy means the
// board is open for writing; owner is always admin.
func (p *AccessPolicy) LevelFor(userID, owner string) AccessLevel {
	if userID != "" && userID == owner {
		return AccessAdmin
	}
	if p == nil {
		return AccessWrite
	}
	level := p.Public
	if level == "" {
		level = AccessNone
	}
	if userID != "" {
		if l, ok := p.Users[userID]; ok && l.rank() > level.rank() {
			level = l
		}
	}
	return level
}

// RequiredLevel is the access level needed to dispatch an event.
func RequiredLevel(a Action) AccessLevel {
	switch a {
	case ActionSetAccessPolicy:
		return AccessAdmin
	case ActionCursor:
		return AccessRead
	default:
		return AccessWrite
	}
}
