// Package skiplist filters records out of a run by ID pattern.
package skiplist

import "strings"

// List matches record IDs against exact entries, prefix patterns
// ("legacy-*"), and suffix patterns ("*-archived"). A nil List matches
// nothing.
type List struct {
	exact    map[string]struct{}
	prefixes []string
	suffixes []string
}

// New builds a List from configured patterns. It returns nil when no
// usable pattern remains after trimming.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*") && len(value) > 1:
			l.addSuffix(strings.TrimPrefix(value, "*"))
		case strings.HasSuffix(value, "*") && len(value) > 1:
			l.addPrefix(strings.TrimSuffix(value, "*"))
		default:
			l.exact[value] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.prefixes) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addPrefix(prefix string) {
	for _, existing := range l.prefixes {
		if existing == prefix {
			return
		}
	}
	l.prefixes = append(l.prefixes, prefix)
}

func (l *List) addSuffix(suffix string) {
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Matches reports whether id is covered by any pattern.
func (l *List) Matches(id string) bool {
	if l == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if _, ok := l.exact[id]; ok {
		return true
	}
	for _, prefix := range l.prefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	for _, suffix := range l.suffixes {
		if strings.HasSuffix(id, suffix) {
			return true
		}
	}
	return false
}

// Size returns the number of distinct patterns held.
func (l *List) Size() int {
	if l == nil {
		return 0
	}
	return len(l.exact) + len(l.prefixes) + len(l.suffixes)
}
