package graph

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/TFMV/flowboard/models"
)

type transaction struct {
	name   string
	level  int
	before models.Dataset
}

// StartTransaction opens a transaction, or nests into the open one.
func (m *Model) StartTransaction(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx != nil {
		m.tx.level++
		return
	}
	m.tx = &transaction{name: name, level: 1, before: m.snapshot()}
}

// CommitTransaction closes one level of the open transaction. Closing the
// outermost level records a history entry and emits the ChangeSet.
func (m *Model) CommitTransaction(name string) error {
	m.mu.Lock()
	if m.tx == nil {
		m.mu.Unlock()
		return ErrNoTransaction
	}
	m.tx.level--
	if m.tx.level > 0 {
		m.mu.Unlock()
		return nil
	}

	tx := m.tx
	m.tx = nil
	if name == "" {
		name = tx.name
	}
	after := m.snapshot()
	cs := Diff(tx.before, after)
	cs.Transaction = name
	cs.Kind = ChangeCommit
	if !cs.Empty() {
		m.history.Record(HistoryEntry{Name: name, Before: tx.before, After: after})
		m.modified = true
		m.fixSelection()
		m.logger.Debug("transaction committed",
			zap.String("name", name),
			zap.String("changeSet", cs.ID),
			zap.Int("modifiedNodes", len(cs.ModifiedNodeData)),
			zap.Int("modifiedLinks", len(cs.ModifiedLinkData)),
		)
	}
	m.mu.Unlock()

	m.emit(cs)
	return nil
}

// RollbackTransaction discards every change made since the outermost
// StartTransaction and closes the transaction entirely.
func (m *Model) RollbackTransaction() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	m.restore(m.tx.before)
	m.logger.Debug("transaction rolled back", zap.String("name", m.tx.name))
	m.tx = nil
	m.fixSelection()
	return nil
}

// Commit runs fn inside a transaction named name. If fn returns an error the
// transaction is rolled back and nothing is applied.
func (m *Model) Commit(name string, fn func(m *Model) error) error {
	m.StartTransaction(name)
	if err := fn(m); err != nil {
		if rerr := m.RollbackTransaction(); rerr != nil {
			return fmt.Errorf("%s: %w (rollback: %v)", name, err, rerr)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return m.CommitTransaction(name)
}

// AddNodeData appends a copy of n under a fresh unique key and returns it.
func (m *Model) AddNodeData(n models.NodeRecord) (models.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return models.NodeRecord{}, ErrNoTransaction
	}
	n.Key = freshKey(models.NodeKeys(m.nodes), len(m.nodes))
	m.nodes = append(m.nodes, n)
	return n, nil
}

// InsertNodeData appends n keeping its key, which must be unused.
func (m *Model) InsertNodeData(n models.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	if models.FindNode(m.nodes, n.Key) >= 0 {
		return fmt.Errorf("node %d: %w", n.Key, models.ErrDuplicateKey)
	}
	if n.HasLocation() {
		if _, err := n.Location(); err != nil {
			return fmt.Errorf("node %d: %w", n.Key, err)
		}
	}
	m.nodes = append(m.nodes, n)
	return nil
}

// SetNodeData replaces the node with the same key.
func (m *Model) SetNodeData(n models.NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	i := models.FindNode(m.nodes, n.Key)
	if i < 0 {
		return fmt.Errorf("node %d: %w", n.Key, ErrNodeNotFound)
	}
	if n.HasLocation() {
		if _, err := n.Location(); err != nil {
			return fmt.Errorf("node %d: %w", n.Key, err)
		}
	}
	m.nodes[i] = n
	return nil
}

// RemoveNodeData removes a node and every link connected to it.
func (m *Model) RemoveNodeData(key int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	i := models.FindNode(m.nodes, key)
	if i < 0 {
		return fmt.Errorf("node %d: %w", key, ErrNodeNotFound)
	}
	m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)

	m.links = models.FilterLinks(m.links, func(l *models.LinkRecord) bool {
		return l.From != key && l.To != key
	})
	if m.links == nil {
		m.links = []models.LinkRecord{}
	}
	return nil
}

// AddLinkData appends a copy of l under a fresh unique key and returns it.
// Both ends must reference existing nodes.
func (m *Model) AddLinkData(l models.LinkRecord) (models.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return models.LinkRecord{}, ErrNoTransaction
	}
	if err := m.checkEnds(l); err != nil {
		return models.LinkRecord{}, err
	}
	used := make(map[int]struct{}, len(m.links))
	for _, existing := range m.links {
		used[existing.Key] = struct{}{}
	}
	l = l.Clone()
	l.Key = freshKey(used, len(m.links))
	m.links = append(m.links, l)
	return l.Clone(), nil
}

// InsertLinkData appends l keeping its key, which must be unused.
func (m *Model) InsertLinkData(l models.LinkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	if models.FindLink(m.links, l.Key) >= 0 {
		return fmt.Errorf("link %d: %w", l.Key, models.ErrDuplicateKey)
	}
	if err := m.checkEnds(l); err != nil {
		return err
	}
	m.links = append(m.links, l.Clone())
	return nil
}

// SetLinkData replaces the link with the same key.
func (m *Model) SetLinkData(l models.LinkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	i := models.FindLink(m.links, l.Key)
	if i < 0 {
		return fmt.Errorf("link %d: %w", l.Key, ErrLinkNotFound)
	}
	if err := m.checkEnds(l); err != nil {
		return err
	}
	m.links[i] = l.Clone()
	return nil
}

// RemoveLinkData removes a link.
func (m *Model) RemoveLinkData(key int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	i := models.FindLink(m.links, key)
	if i < 0 {
		return fmt.Errorf("link %d: %w", key, ErrLinkNotFound)
	}
	m.links = append(m.links[:i], m.links[i+1:]...)
	return nil
}

// SetModelData replaces the metadata record.
func (m *Model) SetModelData(meta models.GraphMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil {
		return ErrNoTransaction
	}
	m.meta = meta.Clone()
	if m.meta == nil {
		m.meta = models.GraphMetadata{}
	}
	return nil
}

func (m *Model) checkEnds(l models.LinkRecord) error {
	if models.FindNode(m.nodes, l.From) < 0 {
		return fmt.Errorf("link from %d: %w", l.From, models.ErrDanglingLink)
	}
	if models.FindNode(m.nodes, l.To) < 0 {
		return fmt.Errorf("link to %d: %w", l.To, models.ErrDanglingLink)
	}
	return nil
}

// freshKey returns the first unused negative key counting down from -(n+1).
func freshKey(used map[int]struct{}, n int) int {
	k := -(n + 1)
	for {
		if _, taken := used[k]; !taken {
			return k
		}
		k--
	}
}
