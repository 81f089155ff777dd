package karma

import "strings"

// UsernameIndex is an inverted index from lowercased username to the set of
// user ids seen with that username. A username carried by more than one id is
// ambiguous: it is excluded from exact-match resolution and from fuzzy
// candidacy, but its presence is still visible via Ambiguous.
type UsernameIndex struct {
	ids map[string]map[string]struct{}
}

// NewUsernameIndex returns an empty index.
func NewUsernameIndex() *UsernameIndex {
	return &UsernameIndex{ids: make(map[string]map[string]struct{})}
}

// Add records that userID was seen with the given username. Usernames are
// lowercased and trimmed; empty usernames are ignored.
func (ix *UsernameIndex) Add(username, userID string) {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" {
		return
	}
	set, ok := ix.ids[name]
	if !ok {
		set = make(map[string]struct{}, 1)
		ix.ids[name] = set
	}
	set[userID] = struct{}{}
}

// Resolve returns the single user id for an exact, unambiguous username
// match. The handle is lowercased before lookup.
func (ix *UsernameIndex) Resolve(handle string) (string, bool) {
	set, ok := ix.ids[strings.ToLower(handle)]
	if !ok || len(set) != 1 {
		return "", false
	}
	for id := range set {
		return id, true
	}
	return "", false
}

// Ambiguous reports whether the username maps to more than one user id.
func (ix *UsernameIndex) Ambiguous(username string) bool {
	return len(ix.ids[strings.ToLower(username)]) > 1
}

// EachUnambiguous calls fn for every username that maps to exactly one id.
func (ix *UsernameIndex) EachUnambiguous(fn func(username, userID string)) {
	for name, set := range ix.ids {
		if len(set) != 1 {
			continue
		}
		for id := range set {
			fn(name, id)
		}
	}
}

// Len returns the number of distinct usernames in the index.
func (ix *UsernameIndex) Len() int { return len(ix.ids) }
