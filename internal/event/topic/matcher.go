package topic

import "sync"

// Matcher indexes subscription patterns in a trie so a published topic
// can be matched against every registered pattern in a single walk.
// It is safe for concurrent use.
type Matcher struct {
	mu   sync.RWMutex
	root *node
}

// node is one trie level keyed by topic segment. Wildcard segments are
// stored under their literal "*" / "**" keys.
type node struct {
	children map[string]*node
	patterns []Topic // patterns terminating at this node
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{root: newNode()}
}

// Add registers a pattern. Adding the same pattern twice is a no-op.
func (m *Matcher) Add(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.root
	for _, seg := range pattern.Segments() {
		child := n.children[seg]
		if child == nil {
			child = newNode()
			n.children[seg] = child
		}
		n = child
	}

	for _, p := range n.patterns {
		if p == pattern {
			return
		}
	}
	n.patterns = append(n.patterns, pattern)
}

// Remove unregisters a pattern. Removing an unknown pattern is a no-op.
func (m *Matcher) Remove(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.root
	for _, seg := range pattern.Segments() {
		if n = n.children[seg]; n == nil {
			return
		}
	}

	for i, p := range n.patterns {
		if p == pattern {
			n.patterns = append(n.patterns[:i], n.patterns[i+1:]...)
			return
		}
	}
}

// Match returns all registered patterns that match the given topic.
// The topic must be a concrete published topic, not a pattern.
func (m *Matcher) Match(eventTopic Topic) []Topic {
	if eventTopic == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Topic
	m.walk(m.root, eventTopic.Segments(), 0, &matches)
	return matches
}

// walk descends the trie following exact, "*" and "**" children.
func (m *Matcher) walk(n *node, segments []string, depth int, matches *[]Topic) {
	if n == nil {
		return
	}

	if depth == len(segments) {
		*matches = append(*matches, n.patterns...)
		// A trailing ** may still match zero further segments.
		if child := n.children[WildcardMulti]; child != nil {
			m.walk(child, segments, depth, matches)
		}
		return
	}

	if child := n.children[segments[depth]]; child != nil {
		m.walk(child, segments, depth+1, matches)
	}
	if child := n.children[WildcardSingle]; child != nil {
		m.walk(child, segments, depth+1, matches)
	}
	if child := n.children[WildcardMulti]; child != nil {
		// ** may consume zero or more of the remaining segments.
		for i := depth; i <= len(segments); i++ {
			m.walk(child, segments, i, matches)
		}
	}
}

// Count returns the number of registered patterns.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	m.count(m.root, &count)
	return count
}

func (m *Matcher) count(n *node, total *int) {
	if n == nil {
		return
	}
	*total += len(n.patterns)
	for _, child := range n.children {
		m.count(child, total)
	}
}
