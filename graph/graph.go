// Package graph implements the flowchart graph model: the authoritative node,
// link and metadata collections together with transactions, undo/redo history,
// selection and viewport state. Every committed change is reported as a
// ChangeSet on the sink channel supplied with WithChangeSink.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/TFMV/flowboard/models"
)

// Errors returned by model operations.
var (
	ErrNoTransaction         = errors.New("no transaction in progress")
	ErrTransactionInProgress = errors.New("transaction in progress")
	ErrNodeNotFound          = errors.New("node not found")
	ErrLinkNotFound          = errors.New("link not found")
	ErrNothingToUndo         = errors.New("nothing to undo")
	ErrNothingToRedo         = errors.New("nothing to redo")
)

// Option configures a Model.
type Option func(*Model)

// WithChangeSink sets the channel that receives one ChangeSet per committed
// transaction, undo and redo, in order. Sends block, so the consumer must
// drain the channel after every model call that can commit.
func WithChangeSink(sink chan<- ChangeSet) Option {
	return func(m *Model) { m.sink = sink }
}

// WithLogger sets the model's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// WithHistory configures the undo manager.
func WithHistory(enabled bool, maxEntries int) Option {
	return func(m *Model) { m.history = NewUndoManager(enabled, maxEntries) }
}

// WithViewport sets the initial viewport.
func WithViewport(v Viewport) Option {
	return func(m *Model) { m.viewport = v }
}

// Model holds the graph collections. It is safe for concurrent use, but
// transactions are not isolated from each other: callers serialize gestures.
type Model struct {
	mu sync.Mutex

	nodes []models.NodeRecord
	links []models.LinkRecord
	meta  models.GraphMetadata

	tx       *transaction
	history  *UndoManager
	sink     chan<- ChangeSet
	logger   *zap.Logger
	modified bool

	selected    int
	hasSelected bool
	viewport    Viewport
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{
		meta:     models.GraphMetadata{},
		history:  NewUndoManager(true, DefaultHistorySize),
		logger:   zap.NewNop(),
		viewport: Viewport{Width: 1000, Height: 600, Scale: 1},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the model contents after validating them. History, selection
// and the modified flag are reset and no ChangeSet is emitted.
func (m *Model) Load(ds models.Dataset) error {
	if err := models.Validate(ds.Nodes, ds.Links); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx != nil {
		return ErrTransactionInProgress
	}
	m.restore(ds.Clone())
	m.history.Clear()
	m.hasSelected = false
	m.modified = false
	m.logger.Debug("model loaded",
		zap.Int("nodes", len(m.nodes)),
		zap.Int("links", len(m.links)),
	)
	return nil
}

// Merge brings the model in line with application-held collections without
// recording history or emitting a ChangeSet. When the merge changes anything
// the undo history is cleared, since its images no longer describe the model.
func (m *Model) Merge(ds models.Dataset) error {
	if err := models.Validate(ds.Nodes, ds.Links); err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx != nil {
		return ErrTransactionInProgress
	}
	current := m.snapshot()
	incoming := ds.Clone()
	if incoming.ModelData == nil {
		incoming.ModelData = current.ModelData
	}
	if Diff(current, incoming).Empty() {
		return nil
	}
	m.restore(incoming)
	m.history.Clear()
	m.fixSelection()
	m.logger.Debug("model merged", zap.Int("nodes", len(m.nodes)), zap.Int("links", len(m.links)))
	return nil
}

// Dataset returns a copy of all three collections.
func (m *Model) Dataset() models.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Nodes returns a copy of the node collection.
func (m *Model) Nodes() []models.NodeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneNodes(m.nodes)
}

// Links returns a copy of the link collection.
func (m *Model) Links() []models.LinkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CloneLinks(m.links)
}

// ModelData returns a copy of the metadata record.
func (m *Model) ModelData() models.GraphMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.Clone()
}

// Node returns the node with the given key.
func (m *Model) Node(key int) (models.NodeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := models.FindNode(m.nodes, key)
	if i < 0 {
		return models.NodeRecord{}, false
	}
	return m.nodes[i], true
}

// Link returns the link with the given key.
func (m *Model) Link(key int) (models.LinkRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := models.FindLink(m.links, key)
	if i < 0 {
		return models.LinkRecord{}, false
	}
	return m.links[i].Clone(), true
}

// IsModified reports whether anything was committed since the last MarkSaved.
func (m *Model) IsModified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modified
}

// MarkSaved clears the modified flag.
func (m *Model) MarkSaved() {
	m.mu.Lock()
	m.modified = false
	m.mu.Unlock()
}

// History returns the undo manager. Its state is only consistent while no
// other goroutine is mutating the model.
func (m *Model) History() *UndoManager {
	return m.history
}

func (m *Model) snapshot() models.Dataset {
	return models.Dataset{
		Nodes:     models.CloneNodes(m.nodes),
		Links:     models.CloneLinks(m.links),
		ModelData: m.meta.Clone(),
	}
}

func (m *Model) restore(ds models.Dataset) {
	m.nodes = ds.Nodes
	if m.nodes == nil {
		m.nodes = []models.NodeRecord{}
	}
	m.links = ds.Links
	if m.links == nil {
		m.links = []models.LinkRecord{}
	}
	m.meta = ds.ModelData
	if m.meta == nil {
		m.meta = models.GraphMetadata{}
	}
}

// emit hands a ChangeSet to the sink. It must be called without holding mu.
func (m *Model) emit(cs ChangeSet) {
	if m.sink == nil || cs.Empty() {
		return
	}
	m.sink <- cs
}
