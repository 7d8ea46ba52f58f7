package domain

import (
	"sort"
	"strings"
)

// GroupPath is a slash-separated group location such as "/staff/projects".
// The root group is "/".
type GroupPath string

// Root is the top-level group every entity belongs to.
const Root GroupPath = "/"

// ParseGroupPath normalizes and validates a group path string.
func ParseGroupPath(s string) (GroupPath, error) {
	if s == "" || !strings.HasPrefix(s, "/") {
		return "", &pathError{s}
	}
	if s != "/" {
		s = strings.TrimRight(s, "/")
	}
	return GroupPath(s), nil
}

type pathError struct{ raw string }

func (e *pathError) Error() string { return "invalid group path: " + e.raw }

func (p GroupPath) String() string { return string(p) }

// IsRoot reports whether the path denotes the root group.
func (p GroupPath) IsRoot() bool { return p == Root }

// Depth returns the number of segments below the root ("/" has depth 0).
func (p GroupPath) Depth() int {
	if p.IsRoot() || p == "" {
		return 0
	}
	return len(p.segments())
}

// Parent returns the immediate ancestor path, or the root for top-level groups.
func (p GroupPath) Parent() GroupPath {
	segs := p.segments()
	if len(segs) <= 1 {
		return Root
	}
	return GroupPath("/" + strings.Join(segs[:len(segs)-1], "/"))
}

// IsAncestorOf reports whether p is a strict ancestor of other.
func (p GroupPath) IsAncestorOf(other GroupPath) bool {
	if p == other {
		return false
	}
	if p.IsRoot() {
		return other != ""
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// Matches reports whether the path satisfies a wildcard pattern. A "*"
// segment matches exactly one segment, "**" matches any suffix.
func (p GroupPath) Matches(pattern string) bool {
	if pattern == "" || pattern == "**" || pattern == "/**" {
		return true
	}
	want := GroupPath(pattern).segments()
	have := p.segments()
	for i, seg := range want {
		if seg == "**" {
			return true
		}
		if i >= len(have) {
			return false
		}
		if seg != "*" && seg != have[i] {
			return false
		}
	}
	return len(have) == len(want)
}

func (p GroupPath) segments() []string {
	trimmed := strings.Trim(string(p), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// SortByDepth orders paths so that a parent always precedes its children.
// Ties are broken lexicographically for determinism.
func SortByDepth(paths []GroupPath) {
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Depth() != paths[j].Depth() {
			return paths[i].Depth() < paths[j].Depth()
		}
		return paths[i] < paths[j]
	})
}
