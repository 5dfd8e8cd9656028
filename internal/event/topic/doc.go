// Package topic provides hierarchical topic types and pattern matching for the event bus.
//
// # Topic Format
//
// Topics use dot-notation to create hierarchical namespaces:
//
//	terminal.output
//	terminal.closed
//	process.log
//	bus.overflow
//
// # Wildcards
//
// Two wildcard patterns are supported:
//
//   - "*" matches exactly one segment
//   - "**" matches zero or more segments
//
// Examples:
//
//	terminal.*      matches terminal.output, terminal.closed (not terminal.a.b)
//	terminal.**     matches terminal.output and any deeper terminal topic
//	*.log           matches process.log, session.log
//	**              matches everything
//
// # Pattern Matching
//
// The Matcher type indexes subscription patterns in a trie so a published
// topic can be matched against all registered patterns in one walk.
//
//	m := topic.NewMatcher()
//	m.Add(topic.Topic("terminal.*"))
//	m.Add(topic.Topic("terminal.output"))
//
//	matches := m.Match(topic.Topic("terminal.output"))
//	// matches contains both patterns
package topic
