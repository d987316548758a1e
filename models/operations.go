package models

import (
	"errors"
	"fmt"
	"strings"
)

// Data-integrity errors. Every error returned by Validate wraps one of these.
var (
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrDanglingLink      = errors.New("dangling link reference")
	ErrMalformedLocation = errors.New("malformed location")
)

// Validate checks the integrity invariants of a node and link collection.
// All violations are reported, joined into one error.
func Validate(nodes []NodeRecord, links []LinkRecord) error {
	var errs []error

	seen := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.Key]; dup {
			errs = append(errs, fmt.Errorf("node %d: %w", n.Key, ErrDuplicateKey))
			continue
		}
		seen[n.Key] = struct{}{}
		if n.HasLocation() {
			if _, err := n.Location(); err != nil {
				errs = append(errs, fmt.Errorf("node %d: %w", n.Key, err))
			}
		}
	}

	linkKeys := make(map[int]struct{}, len(links))
	for _, l := range links {
		if _, dup := linkKeys[l.Key]; dup {
			errs = append(errs, fmt.Errorf("link %d: %w", l.Key, ErrDuplicateKey))
		}
		linkKeys[l.Key] = struct{}{}
		if _, ok := seen[l.From]; !ok {
			errs = append(errs, fmt.Errorf("link %d: from %d: %w", l.Key, l.From, ErrDanglingLink))
		}
		if _, ok := seen[l.To]; !ok {
			errs = append(errs, fmt.Errorf("link %d: to %d: %w", l.Key, l.To, ErrDanglingLink))
		}
	}

	return errors.Join(errs...)
}

// CheckWellFormed returns warnings for a flowchart that does not have exactly
// one Start node and at most one End node. These are not integrity errors.
func CheckWellFormed(nodes []NodeRecord) []string {
	starts := len(FilterNodes(nodes, isCategory(CategoryStart)))
	ends := len(FilterNodes(nodes, isCategory(CategoryEnd)))

	var warnings []string
	if starts != 1 {
		warnings = append(warnings, fmt.Sprintf("expected exactly one %q node, found %d", CategoryStart, starts))
	}
	if ends > 1 {
		warnings = append(warnings, fmt.Sprintf("expected at most one %q node, found %d", CategoryEnd, ends))
	}
	return warnings
}

// CheckReachability returns warnings for End nodes that no link leads into
// and for nodes that cannot be reached by following links from a Start node.
// Without a Start node only the End check runs.
func CheckReachability(nodes []NodeRecord, links []LinkRecord) []string {
	var warnings []string
	for _, end := range FilterNodes(nodes, isCategory(CategoryEnd)) {
		if len(IncomingLinks(links, end.Key)) == 0 {
			warnings = append(warnings, fmt.Sprintf("%q node %d has no incoming links", CategoryEnd, end.Key))
		}
	}

	starts := FilterNodes(nodes, isCategory(CategoryStart))
	if len(starts) == 0 {
		return warnings
	}
	seen := make(map[int]bool, len(nodes))
	queue := make([]int, 0, len(nodes))
	for _, s := range starts {
		seen[s.Key] = true
		queue = append(queue, s.Key)
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, l := range OutgoingLinks(links, key) {
			if !seen[l.To] {
				seen[l.To] = true
				queue = append(queue, l.To)
			}
		}
	}
	for _, n := range nodes {
		if !seen[n.Key] {
			warnings = append(warnings, fmt.Sprintf("node %d (%q) is not reachable from %q", n.Key, n.Text, CategoryStart))
		}
	}
	return warnings
}

func isCategory(c string) NodeFilter {
	return func(n *NodeRecord) bool { return n.Category == c }
}

// NormalizeCategory maps user spellings onto the known categories.
// Unknown categories are kept as-is and render with the default template.
func NormalizeCategory(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "start":
		return CategoryStart
	case "end":
		return CategoryEnd
	case "":
		return CategoryDefault
	}
	return c
}
