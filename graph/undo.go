package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/TFMV/flowboard/models"
)

// DefaultHistorySize is the number of transactions kept for undo.
const DefaultHistorySize = 100

// HistoryEntry holds the before and after images of one committed transaction.
type HistoryEntry struct {
	Name      string
	Before    models.Dataset
	After     models.Dataset
	Committed time.Time
}

// UndoManager is a bounded linear history. index points just past the last
// applied entry; entries at or after index are available for redo.
type UndoManager struct {
	enabled    bool
	maxEntries int
	entries    []HistoryEntry
	index      int
}

// NewUndoManager creates an undo manager. A non-positive maxEntries selects
// DefaultHistorySize.
func NewUndoManager(enabled bool, maxEntries int) *UndoManager {
	if maxEntries <= 0 {
		maxEntries = DefaultHistorySize
	}
	return &UndoManager{enabled: enabled, maxEntries: maxEntries}
}

// Enabled reports whether history is recorded.
func (u *UndoManager) Enabled() bool { return u.enabled }

// Record appends an entry, dropping the redo tail and the oldest entry when full.
func (u *UndoManager) Record(e HistoryEntry) {
	if !u.enabled {
		return
	}
	if e.Committed.IsZero() {
		e.Committed = time.Now()
	}
	u.entries = append(u.entries[:u.index], e)
	if len(u.entries) > u.maxEntries {
		u.entries = u.entries[len(u.entries)-u.maxEntries:]
	}
	u.index = len(u.entries)
}

// CanUndo reports whether an entry is available for undo.
func (u *UndoManager) CanUndo() bool { return u.enabled && u.index > 0 }

// CanRedo reports whether an entry is available for redo.
func (u *UndoManager) CanRedo() bool { return u.enabled && u.index < len(u.entries) }

// UndoName returns the name of the transaction Undo would revert.
func (u *UndoManager) UndoName() string {
	if !u.CanUndo() {
		return ""
	}
	return u.entries[u.index-1].Name
}

// RedoName returns the name of the transaction Redo would re-apply.
func (u *UndoManager) RedoName() string {
	if !u.CanRedo() {
		return ""
	}
	return u.entries[u.index].Name
}

// Len returns the number of recorded entries.
func (u *UndoManager) Len() int { return len(u.entries) }

// Clear drops all history.
func (u *UndoManager) Clear() {
	u.entries = nil
	u.index = 0
}

// Undo reverts the most recent transaction and emits the resulting ChangeSet.
func (m *Model) Undo() (ChangeSet, error) {
	m.mu.Lock()
	if m.tx != nil {
		m.mu.Unlock()
		return ChangeSet{}, ErrTransactionInProgress
	}
	if !m.history.CanUndo() {
		m.mu.Unlock()
		return ChangeSet{}, ErrNothingToUndo
	}
	m.history.index--
	entry := m.history.entries[m.history.index]
	cs := m.apply(entry.Name, ChangeUndo, entry.Before)
	m.mu.Unlock()

	m.emit(cs)
	return cs, nil
}

// Redo re-applies the most recently undone transaction.
func (m *Model) Redo() (ChangeSet, error) {
	m.mu.Lock()
	if m.tx != nil {
		m.mu.Unlock()
		return ChangeSet{}, ErrTransactionInProgress
	}
	if !m.history.CanRedo() {
		m.mu.Unlock()
		return ChangeSet{}, ErrNothingToRedo
	}
	entry := m.history.entries[m.history.index]
	m.history.index++
	cs := m.apply(entry.Name, ChangeRedo, entry.After)
	m.mu.Unlock()

	m.emit(cs)
	return cs, nil
}

// apply replaces the collections with target and returns the ChangeSet. mu must be held.
func (m *Model) apply(name string, kind ChangeKind, target models.Dataset) ChangeSet {
	current := m.snapshot()
	m.restore(target.Clone())
	cs := Diff(current, m.snapshot())
	cs.Transaction = name
	cs.Kind = kind
	m.modified = true
	m.fixSelection()
	m.logger.Debug("history applied", zap.String("kind", string(kind)), zap.String("name", name))
	return cs
}
