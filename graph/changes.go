package graph

import (
	"reflect"
	"slices"

	"github.com/google/uuid"

	"github.com/TFMV/flowboard/models"
)

// ChangeKind says what produced a ChangeSet.
type ChangeKind string

const (
	ChangeCommit ChangeKind = "commit"
	ChangeUndo   ChangeKind = "undo"
	ChangeRedo   ChangeKind = "redo"
)

// ChangeSet describes the resulting state of every record touched by one
// transaction, undo or redo. Modified records carry their complete new value,
// so applying the same ChangeSet twice is the same as applying it once.
// Inserted records appear in both InsertedXKeys and ModifiedXData.
type ChangeSet struct {
	ID          string     `json:"id"`
	Transaction string     `json:"transaction"`
	Kind        ChangeKind `json:"kind"`

	ModifiedNodeData []models.NodeRecord `json:"modifiedNodeData,omitempty"`
	InsertedNodeKeys []int               `json:"insertedNodeKeys,omitempty"`
	RemovedNodeKeys  []int               `json:"removedNodeKeys,omitempty"`

	ModifiedLinkData []models.LinkRecord `json:"modifiedLinkData,omitempty"`
	InsertedLinkKeys []int               `json:"insertedLinkKeys,omitempty"`
	RemovedLinkKeys  []int               `json:"removedLinkKeys,omitempty"`

	// ModelData is nil when the metadata record did not change.
	ModelData models.GraphMetadata `json:"modelData,omitempty"`
}

// Empty reports whether the ChangeSet carries no changes.
func (cs ChangeSet) Empty() bool {
	return len(cs.ModifiedNodeData) == 0 && len(cs.InsertedNodeKeys) == 0 && len(cs.RemovedNodeKeys) == 0 &&
		len(cs.ModifiedLinkData) == 0 && len(cs.InsertedLinkKeys) == 0 && len(cs.RemovedLinkKeys) == 0 &&
		cs.ModelData == nil
}

// Diff computes the ChangeSet that turns before into after. Modified records
// are listed in the order they appear in after.
func Diff(before, after models.Dataset) ChangeSet {
	cs := ChangeSet{ID: uuid.NewString()}

	oldNodes := make(map[int]models.NodeRecord, len(before.Nodes))
	for _, n := range before.Nodes {
		oldNodes[n.Key] = n
	}
	newNodes := make(map[int]struct{}, len(after.Nodes))
	for _, n := range after.Nodes {
		newNodes[n.Key] = struct{}{}
		old, existed := oldNodes[n.Key]
		if !existed {
			cs.InsertedNodeKeys = append(cs.InsertedNodeKeys, n.Key)
		}
		if !existed || old != n {
			cs.ModifiedNodeData = append(cs.ModifiedNodeData, n)
		}
	}
	for _, n := range before.Nodes {
		if _, ok := newNodes[n.Key]; !ok {
			cs.RemovedNodeKeys = append(cs.RemovedNodeKeys, n.Key)
		}
	}

	oldLinks := make(map[int]models.LinkRecord, len(before.Links))
	for _, l := range before.Links {
		oldLinks[l.Key] = l
	}
	newLinks := make(map[int]struct{}, len(after.Links))
	for _, l := range after.Links {
		newLinks[l.Key] = struct{}{}
		old, existed := oldLinks[l.Key]
		if !existed {
			cs.InsertedLinkKeys = append(cs.InsertedLinkKeys, l.Key)
		}
		if !existed || !linkEqual(old, l) {
			cs.ModifiedLinkData = append(cs.ModifiedLinkData, l.Clone())
		}
	}
	for _, l := range before.Links {
		if _, ok := newLinks[l.Key]; !ok {
			cs.RemovedLinkKeys = append(cs.RemovedLinkKeys, l.Key)
		}
	}

	if !metaEqual(before.ModelData, after.ModelData) {
		cs.ModelData = after.ModelData.Clone()
		if cs.ModelData == nil {
			cs.ModelData = models.GraphMetadata{}
		}
	}

	return cs
}

func linkEqual(a, b models.LinkRecord) bool {
	if a.Key != b.Key || a.From != b.From || a.To != b.To || a.Text != b.Text || a.Progress != b.Progress {
		return false
	}
	if (a.Curviness == nil) != (b.Curviness == nil) {
		return false
	}
	if a.Curviness != nil && *a.Curviness != *b.Curviness {
		return false
	}
	return slices.Equal(a.Points, b.Points)
}

func metaEqual(a, b models.GraphMetadata) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
