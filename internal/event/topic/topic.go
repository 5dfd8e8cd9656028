package topic

import "strings"

// Topic represents a hierarchical event type using dot notation.
// Examples: "terminal.output", "process.log", "bus.overflow"
type Topic string

// Wildcard constants for pattern matching.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Separator is the character used to separate topic segments.
	Separator = "."
)

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Segments returns the topic split by the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// IsPattern returns true if the topic contains wildcard segments.
// A pattern may be subscribed to but never published.
func (t Topic) IsPattern() bool {
	for _, seg := range t.Segments() {
		if seg == WildcardSingle || seg == WildcardMulti {
			return true
		}
	}
	return false
}

// IsValid returns true if the topic is well formed.
// A valid topic:
//   - Is not empty
//   - Does not start or end with a separator
//   - Does not contain empty segments
func (t Topic) IsValid() bool {
	s := string(t)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return false
	}
	for _, seg := range t.Segments() {
		if seg == "" {
			return false
		}
	}
	return true
}

// HasPrefix returns true if the topic starts with the given prefix on a
// segment boundary, so "terminal.output" has prefix "terminal" but not
// "term".
func (t Topic) HasPrefix(prefix Topic) bool {
	if prefix == "" {
		return true
	}
	s, p := string(t), string(prefix)
	if !strings.HasPrefix(s, p) {
		return false
	}
	return len(s) == len(p) || s[len(p)] == '.'
}

// Matches returns true if this topic matches the given pattern.
// The pattern may contain wildcards:
//   - "*" matches exactly one segment
//   - "**" matches zero or more segments
func (t Topic) Matches(pattern Topic) bool {
	return matchSegments(t.Segments(), pattern.Segments())
}

// matchSegments performs recursive pattern matching on topic segments.
func matchSegments(topic, pattern []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}

	switch pattern[0] {
	case WildcardMulti:
		// ** matches zero or more segments; try every possible split.
		for skip := 0; skip <= len(topic); skip++ {
			if matchSegments(topic[skip:], pattern[1:]) {
				return true
			}
		}
		return false
	case WildcardSingle:
		return len(topic) > 0 && matchSegments(topic[1:], pattern[1:])
	default:
		return len(topic) > 0 && topic[0] == pattern[0] && matchSegments(topic[1:], pattern[1:])
	}
}

// Join joins segments into a topic.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}
