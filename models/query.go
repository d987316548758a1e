package models

import "sort"

// NodeFilter is a function type used to filter nodes in queries
type NodeFilter func(node *NodeRecord) bool

// LinkFilter is a function type used to filter links in queries
type LinkFilter func(link *LinkRecord) bool

// FindNode returns the index of the node with the given key, or -1.
func FindNode(nodes []NodeRecord, key int) int {
	for i := range nodes {
		if nodes[i].Key == key {
			return i
		}
	}
	return -1
}

// FindLink returns the index of the link with the given key, or -1.
func FindLink(links []LinkRecord, key int) int {
	for i := range links {
		if links[i].Key == key {
			return i
		}
	}
	return -1
}

// OutgoingLinks returns all links originating from a node
func OutgoingLinks(links []LinkRecord, key int) []LinkRecord {
	return FilterLinks(links, func(l *LinkRecord) bool { return l.From == key })
}

// IncomingLinks returns all links targeting a node
func IncomingLinks(links []LinkRecord, key int) []LinkRecord {
	return FilterLinks(links, func(l *LinkRecord) bool { return l.To == key })
}

// ConnectedNodes returns the keys of all nodes directly connected to a node,
// sorted ascending. A self-loop connects the node to itself.
func ConnectedNodes(links []LinkRecord, key int) []int {
	set := make(map[int]struct{})
	for _, l := range links {
		if l.From == key {
			set[l.To] = struct{}{}
		}
		if l.To == key {
			set[l.From] = struct{}{}
		}
	}
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// NodeKeys returns the set of node keys.
func NodeKeys(nodes []NodeRecord) map[int]struct{} {
	set := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		set[n.Key] = struct{}{}
	}
	return set
}

// FilterNodes returns nodes that match the provided filter function
func FilterNodes(nodes []NodeRecord, filter NodeFilter) []NodeRecord {
	var result []NodeRecord
	for i := range nodes {
		if filter(&nodes[i]) {
			result = append(result, nodes[i])
		}
	}
	return result
}

// FilterLinks returns links that match the provided filter function
func FilterLinks(links []LinkRecord, filter LinkFilter) []LinkRecord {
	var result []LinkRecord
	for i := range links {
		if filter(&links[i]) {
			result = append(result, links[i].Clone())
		}
	}
	return result
}
