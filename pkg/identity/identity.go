package identity

import "strings"

// Identity is the platform-verified credential of a caller. Values are opaque
// and compared by equality only.
type Identity string

// Anonymous is the identity of a caller that presented no credential.
const Anonymous Identity = "anonymous"

// Parse normalizes caller text. Blank text is Anonymous.
func Parse(s string) Identity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Anonymous
	}
	return Identity(s)
}

func (id Identity) IsAnonymous() bool { return id == Anonymous }

func (id Identity) String() string { return string(id) }
