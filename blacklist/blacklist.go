// Package blacklist implements the three-tier version blacklist
// (global, per-group, per-(group,artifact)) described in §4.4 of the
// tracker's design.
package blacklist

import (
	"regexp"
	"strings"
	"sync"

	"github.com/quay/versiontracker"
)

// MatchKind discriminates the two pattern kinds a Matcher can hold.
type MatchKind int

const (
	// Exact matches the version string verbatim.
	Exact MatchKind = iota
	// Regex matches the version string against a compiled regular
	// expression, memoized after first use.
	Regex
)

// never is the sentinel regex pattern that blacklists every version
// for its scope.
const never = ".*"

// Matcher is a single (pattern, kind) blacklist entry.
type Matcher struct {
	Pattern string
	Kind    MatchKind

	once  sync.Once
	re    *regexp.Regexp
	reErr error
}

// IsNever reports whether m is the NEVER sentinel: a Regex matcher
// whose pattern is ".*".
func (m *Matcher) IsNever() bool {
	return m.Kind == Regex && m.Pattern == never
}

// Matches reports whether version satisfies m. A malformed regex never
// matches.
func (m *Matcher) Matches(version string) bool {
	switch m.Kind {
	case Exact:
		return m.Pattern == version
	case Regex:
		m.once.Do(func() {
			m.re, m.reErr = regexp.Compile(m.Pattern)
		})
		if m.reErr != nil {
			return false
		}
		return m.re.MatchString(version)
	default:
		return false
	}
}

// Never returns the NEVER sentinel matcher.
func Never() Matcher {
	return Matcher{Pattern: never, Kind: Regex}
}

// List is an ordered, duplicate-free set of Matcher.
type List struct {
	mu       sync.RWMutex
	matchers []*Matcher
}

// Add inserts (pattern, kind) into the list. Adding a duplicate is a
// no-op.
func (l *List) Add(pattern string, kind MatchKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.matchers {
		if m.Pattern == pattern && m.Kind == kind {
			return
		}
	}
	l.matchers = append(l.matchers, &Matcher{Pattern: pattern, Kind: kind})
}

// AddNever inserts the NEVER sentinel.
func (l *List) AddNever() {
	l.Add(never, Regex)
}

// HasNever reports whether the list contains the NEVER sentinel.
func (l *List) HasNever() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.matchers {
		if m.IsNever() {
			return true
		}
	}
	return false
}

// Matches reports whether version matches any entry in the list.
func (l *List) Matches(version string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.matchers {
		if m.Matches(version) {
			return true
		}
	}
	return false
}

// Blacklist is the three-tier matcher: a global list, a per-group
// list, and a per-(group,artifact) list.
type Blacklist struct {
	mu      sync.RWMutex
	global  List
	byGroup map[string]*List
	byCoord map[coordKey]*List
}

type coordKey struct{ groupID, artifactID string }

// New returns an empty Blacklist.
func New() *Blacklist {
	return &Blacklist{
		byGroup: make(map[string]*List),
		byCoord: make(map[coordKey]*List),
	}
}

// AddGlobal adds (pattern, kind) to the global list.
func (b *Blacklist) AddGlobal(pattern string, kind MatchKind) {
	b.global.Add(pattern, kind)
}

// AddGroup adds (pattern, kind) to groupID's list.
func (b *Blacklist) AddGroup(groupID, pattern string, kind MatchKind) {
	b.groupList(groupID).Add(pattern, kind)
}

// AddGroupNever blacklists every version of every artifact under
// groupID.
func (b *Blacklist) AddGroupNever(groupID string) {
	b.groupList(groupID).AddNever()
}

// AddCoordinate adds (pattern, kind) to the list scoped to
// (groupID, artifactID).
func (b *Blacklist) AddCoordinate(groupID, artifactID, pattern string, kind MatchKind) {
	b.coordList(groupID, artifactID).Add(pattern, kind)
}

func (b *Blacklist) groupList(groupID string) *List {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.byGroup[groupID]
	if !ok {
		l = &List{}
		b.byGroup[groupID] = l
	}
	return l
}

func (b *Blacklist) coordList(groupID, artifactID string) *List {
	key := coordKey{groupID, artifactID}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.byCoord[key]
	if !ok {
		l = &List{}
		b.byCoord[key] = l
	}
	return l
}

// IsVersionBlacklisted evaluates, in order, the global list, the
// per-group list, and the per-(group,artifact) list, short-circuiting
// on the first match. A per-group entry applies to its groupId and to
// every groupId nested under it (dot-separated), so blacklisting
// "com.example" also covers "com.example.sub".
func (b *Blacklist) IsVersionBlacklisted(groupID, artifactID, version string) bool {
	if b.global.Matches(version) {
		return true
	}
	if b.anyGroupMatches(groupID, func(l *List) bool { return l.Matches(version) }) {
		return true
	}
	if l := b.lookupCoord(groupID, artifactID); l != nil && l.Matches(version) {
		return true
	}
	return false
}

// IsArtifactBlacklisted reports whether a.Version is blacklisted for
// a's coordinate.
func (b *Blacklist) IsArtifactBlacklisted(a versiontracker.Artifact) bool {
	return b.IsVersionBlacklisted(a.GroupID, a.ArtifactID, a.Version)
}

// IsAllVersionsBlacklisted reports whether any applicable list (global,
// group, or coordinate) contains the NEVER matcher.
func (b *Blacklist) IsAllVersionsBlacklisted(groupID, artifactID string) bool {
	if b.global.HasNever() {
		return true
	}
	if b.anyGroupMatches(groupID, (*List).HasNever) {
		return true
	}
	if l := b.lookupCoord(groupID, artifactID); l != nil && l.HasNever() {
		return true
	}
	return false
}

// anyGroupMatches reports whether check holds for any per-group list
// whose groupId is groupID itself or a dot-separated ancestor of it.
func (b *Blacklist) anyGroupMatches(groupID string, check func(*List) bool) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for prefix, l := range b.byGroup {
		if prefix == groupID || strings.HasPrefix(groupID, prefix+".") {
			if check(l) {
				return true
			}
		}
	}
	return false
}

func (b *Blacklist) lookupCoord(groupID, artifactID string) *List {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byCoord[coordKey{groupID, artifactID}]
}
