// Package datasync reconciles the application's copies of the node, link and
// metadata collections with a ChangeSet reported by the graph model.
//
// Each function returns a new collection and never modifies its input. The
// ChangeSet carries the resulting state of every touched record, so applying
// the same ChangeSet twice yields the same collection as applying it once.
package datasync

import (
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/models"
)

// SyncNodeData applies cs to nodes. Removed keys are dropped, modified records
// replace the record with the same key in place and records with unknown keys
// are appended in change-set order.
func SyncNodeData(cs graph.ChangeSet, nodes []models.NodeRecord) []models.NodeRecord {
	return syncRecords(nodes, cs.ModifiedNodeData, cs.RemovedNodeKeys,
		func(n models.NodeRecord) int { return n.Key },
		func(n models.NodeRecord) models.NodeRecord { return n },
	)
}

// SyncLinkData applies cs to links with the same rules as SyncNodeData.
func SyncLinkData(cs graph.ChangeSet, links []models.LinkRecord) []models.LinkRecord {
	return syncRecords(links, cs.ModifiedLinkData, cs.RemovedLinkKeys,
		func(l models.LinkRecord) int { return l.Key },
		models.LinkRecord.Clone,
	)
}

// SyncModelData returns the metadata carried by cs, or a copy of meta when
// the change-set did not touch it.
func SyncModelData(cs graph.ChangeSet, meta models.GraphMetadata) models.GraphMetadata {
	if cs.ModelData != nil {
		return cs.ModelData.Clone()
	}
	return meta.Clone()
}

func syncRecords[T any](current, modified []T, removed []int, key func(T) int, clone func(T) T) []T {
	drop := make(map[int]struct{}, len(removed))
	for _, k := range removed {
		drop[k] = struct{}{}
	}
	// A record both modified and removed in one change-set ends up removed.
	updates := make(map[int]T, len(modified))
	for _, r := range modified {
		updates[key(r)] = r
	}

	out := make([]T, 0, len(current)+len(modified))
	seen := make(map[int]struct{}, len(current))
	for _, r := range current {
		k := key(r)
		if _, gone := drop[k]; gone {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if u, ok := updates[k]; ok {
			r = u
		}
		out = append(out, clone(r))
	}
	for _, r := range modified {
		k := key(r)
		if _, gone := drop[k]; gone {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, clone(updates[k]))
	}
	return out
}
