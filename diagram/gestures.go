package diagram

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/models"
)

// Transaction names recorded in the undo history.
const (
	TxAddState     = "Add State"
	TxCreateNode   = "Create Node"
	TxCreateLink   = "Create Link"
	TxEditText     = "Edit Text"
	TxMove         = "Move"
	TxEditNode     = "Edit Node"
	TxRelink       = "Relink"
	TxReshape      = "Reshape"
	TxSetProgress  = "Set Progress"
	TxEditLink     = "Edit Link"
	TxDelete       = "Delete"
	TxSetModelData = "Set Model Data"
)

// Offset of a node created by AddNodeAndLink from its source node.
const successorOffset = 200

// ErrNoSelection is returned by gestures that act on the selection when
// nothing is selected.
var ErrNoSelection = errors.New("no node selected")

// ErrInvalidRoute is returned by Reshape for a route that is not a list of at
// least two x, y pairs.
var ErrInvalidRoute = errors.New("route must hold at least two x,y pairs")

// Successor is the result of AddNodeAndLink.
type Successor struct {
	Node     models.NodeRecord `json:"node"`
	Link     models.LinkRecord `json:"link"`
	Viewport graph.Viewport    `json:"viewport"`
}

// AddNodeAndLink inserts a node 200 units to the right of the source node and
// a link from the source to it, in one "Add State" transaction. The new node
// is selected and scrolled into view. An unknown source key or an unparsable
// source location aborts the gesture with nothing applied.
func (a *App) AddNodeAndLink(sourceKey int) (Successor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addNodeAndLink(sourceKey)
}

// AddNodeAndLinkFromSelection runs AddNodeAndLink on the selected node, as
// the selection adornment's button does.
func (a *App) AddNodeAndLinkFromSelection() (Successor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, ok := a.model.Selection()
	if !ok {
		return Successor{}, ErrNoSelection
	}
	return a.addNodeAndLink(key)
}

// addNodeAndLink does the work of AddNodeAndLink. mu must be held.
func (a *App) addNodeAndLink(sourceKey int) (Successor, error) {
	source, ok := a.model.Node(sourceKey)
	if !ok {
		return Successor{}, fmt.Errorf("%s: source %d: %w", TxAddState, sourceKey, graph.ErrNodeNotFound)
	}
	loc, err := source.Location()
	if err != nil {
		return Successor{}, fmt.Errorf("%s: source %d: %w", TxAddState, sourceKey, err)
	}

	var res Successor
	err = a.model.Commit(TxAddState, func(m *graph.Model) error {
		node, err := m.AddNodeData(models.NodeRecord{
			Loc:  loc.Offset(successorOffset, 0).String(),
			Text: "new",
		})
		if err != nil {
			return err
		}
		link, err := m.AddLinkData(models.LinkRecord{
			From: source.Key,
			To:   node.Key,
			Text: a.templates.Link.LabelText,
		})
		if err != nil {
			return err
		}
		res.Node, res.Link = node, link
		return m.Select(node.Key)
	})
	a.drain()
	if err != nil {
		return Successor{}, err
	}

	bounds, err := a.templates.NodeBounds(res.Node)
	if err != nil {
		return Successor{}, err
	}
	res.Viewport = a.model.ScrollToRect(bounds)

	a.logger.Debug("node and link added",
		zap.Int("source", source.Key),
		zap.Int("node", res.Node.Key),
		zap.Int("link", res.Link.Key),
	)
	return res, a.finish()
}

// AddNodeAt creates a copy of the archetype node at p, floored to whole
// units, and selects it. This is the background double-click gesture.
func (a *App) AddNodeAt(p models.Point) (models.NodeRecord, error) {
	return a.createNode(p, func(m *graph.Model, n models.NodeRecord) (models.NodeRecord, error) {
		return m.AddNodeData(n)
	})
}

// InsertNodeAt is AddNodeAt for a caller-chosen key, as pasting a copied
// node does. The key must be unused.
func (a *App) InsertNodeAt(key int, p models.Point) (models.NodeRecord, error) {
	return a.createNode(p, func(m *graph.Model, n models.NodeRecord) (models.NodeRecord, error) {
		n.Key = key
		return n, m.InsertNodeData(n)
	})
}

func (a *App) createNode(p models.Point, insert func(*graph.Model, models.NodeRecord) (models.NodeRecord, error)) (models.NodeRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	archetype := a.templates.Diagram.Archetype
	archetype.Loc = p.Floor().String()

	var node models.NodeRecord
	err := a.model.Commit(TxCreateNode, func(m *graph.Model) error {
		var err error
		if node, err = insert(m, archetype); err != nil {
			return err
		}
		return m.Select(node.Key)
	})
	a.drain()
	if err != nil {
		return models.NodeRecord{}, err
	}
	return node, a.finish()
}

// NodeEdit lists the node fields UpdateNode changes. Nil fields are kept.
type NodeEdit struct {
	Text *string
	Loc  *models.Point // floored to whole units
}

func (e NodeEdit) empty() bool { return e.Text == nil && e.Loc == nil }

func (e NodeEdit) transaction() string {
	switch {
	case e.Text != nil && e.Loc != nil:
		return TxEditNode
	case e.Loc != nil:
		return TxMove
	default:
		return TxEditText
	}
}

func (e NodeEdit) apply(n *models.NodeRecord) {
	if e.Loc != nil {
		n.Loc = e.Loc.Floor().String()
	}
	if e.Text != nil {
		n.Text = *e.Text
	}
}

// EditNodeText replaces a node's text.
func (a *App) EditNodeText(key int, text string) (models.NodeRecord, error) {
	return a.UpdateNode(key, NodeEdit{Text: &text})
}

// MoveNode moves a node to p, floored to whole units.
func (a *App) MoveNode(key int, p models.Point) (models.NodeRecord, error) {
	return a.UpdateNode(key, NodeEdit{Loc: &p})
}

// UpdateNode applies every field of edit in one transaction. Either all of
// them take effect or none does. An empty edit returns the node unchanged.
func (a *App) UpdateNode(key int, edit NodeEdit) (models.NodeRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if edit.empty() {
		if n, ok := a.model.Node(key); ok {
			return n, nil
		}
		return models.NodeRecord{}, fmt.Errorf("node %d: %w", key, graph.ErrNodeNotFound)
	}

	var node models.NodeRecord
	err := a.model.Commit(edit.transaction(), func(m *graph.Model) error {
		n, ok := m.Node(key)
		if !ok {
			return fmt.Errorf("node %d: %w", key, graph.ErrNodeNotFound)
		}
		edit.apply(&n)
		node = n
		return m.SetNodeData(n)
	})
	a.drain()
	if err != nil {
		return models.NodeRecord{}, err
	}
	return node, a.finish()
}

// LinkEdit lists the link fields UpdateLink changes. Nil fields are kept.
// Moving either end drops the stored route unless Reshape sets a new one.
type LinkEdit struct {
	From     *int
	To       *int
	Text     *string
	Progress *bool

	// Reshape replaces the route with Route, flat x, y pairs. An empty Route
	// returns the link to automatic routing.
	Reshape bool
	Route   []float64
}

func (e LinkEdit) empty() bool {
	return e.From == nil && e.To == nil && e.Text == nil && e.Progress == nil && !e.Reshape
}

func (e LinkEdit) transaction() string {
	var names []string
	if e.From != nil || e.To != nil {
		names = append(names, TxRelink)
	}
	if e.Reshape {
		names = append(names, TxReshape)
	}
	if e.Text != nil {
		names = append(names, TxEditText)
	}
	if e.Progress != nil {
		names = append(names, TxSetProgress)
	}
	if len(names) == 1 {
		return names[0]
	}
	return TxEditLink
}

func (e LinkEdit) validate() error {
	if e.Reshape && len(e.Route) != 0 && (len(e.Route) < 4 || len(e.Route)%2 != 0) {
		return fmt.Errorf("%s: %w", TxReshape, ErrInvalidRoute)
	}
	return nil
}

func (e LinkEdit) apply(l *models.LinkRecord) {
	if e.From != nil {
		l.From = *e.From
		l.Points = nil
	}
	if e.To != nil {
		l.To = *e.To
		l.Points = nil
	}
	if e.Reshape {
		l.Points = nil
		if len(e.Route) > 0 {
			l.Points = append([]float64(nil), e.Route...)
		}
	}
	if e.Text != nil {
		l.Text = *e.Text
	}
	if e.Progress != nil {
		l.Progress = models.Progress(*e.Progress)
	}
}

// EditLinkText replaces a link's label.
func (a *App) EditLinkText(key int, text string) (models.LinkRecord, error) {
	return a.UpdateLink(key, LinkEdit{Text: &text})
}

// Relink reconnects a link. Its route is dropped since it no longer fits.
func (a *App) Relink(key, from, to int) (models.LinkRecord, error) {
	return a.UpdateLink(key, LinkEdit{From: &from, To: &to})
}

// Reshape stores a hand-drawn route for a link as flat x, y pairs. An empty
// route returns the link to automatic routing.
func (a *App) Reshape(key int, points []float64) (models.LinkRecord, error) {
	return a.UpdateLink(key, LinkEdit{Reshape: true, Route: points})
}

// SetLinkProgress marks or unmarks a link as part of the happy path.
func (a *App) SetLinkProgress(key int, progress bool) (models.LinkRecord, error) {
	return a.UpdateLink(key, LinkEdit{Progress: &progress})
}

// UpdateLink applies every field of edit in one transaction. Either all of
// them take effect or none does: a bad route or an end that names no node
// leaves the link as it was. An empty edit returns the link unchanged.
func (a *App) UpdateLink(key int, edit LinkEdit) (models.LinkRecord, error) {
	if err := edit.validate(); err != nil {
		return models.LinkRecord{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if edit.empty() {
		if l, ok := a.model.Link(key); ok {
			return l, nil
		}
		return models.LinkRecord{}, fmt.Errorf("link %d: %w", key, graph.ErrLinkNotFound)
	}

	var link models.LinkRecord
	err := a.model.Commit(edit.transaction(), func(m *graph.Model) error {
		l, ok := m.Link(key)
		if !ok {
			return fmt.Errorf("link %d: %w", key, graph.ErrLinkNotFound)
		}
		edit.apply(&l)
		link = l
		return m.SetLinkData(l)
	})
	a.drain()
	if err != nil {
		return models.LinkRecord{}, err
	}
	return link.Clone(), a.finish()
}

// AddLink connects two existing nodes under a fresh key.
func (a *App) AddLink(l models.LinkRecord) (models.LinkRecord, error) {
	return a.createLink(func(m *graph.Model) (models.LinkRecord, error) {
		return m.AddLinkData(l)
	})
}

// InsertLink connects two existing nodes keeping l's key, which must be
// unused.
func (a *App) InsertLink(l models.LinkRecord) (models.LinkRecord, error) {
	return a.createLink(func(m *graph.Model) (models.LinkRecord, error) {
		return l.Clone(), m.InsertLinkData(l)
	})
}

func (a *App) createLink(insert func(*graph.Model) (models.LinkRecord, error)) (models.LinkRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var link models.LinkRecord
	err := a.model.Commit(TxCreateLink, func(m *graph.Model) error {
		var err error
		link, err = insert(m)
		return err
	})
	a.drain()
	if err != nil {
		return models.LinkRecord{}, err
	}
	return link, a.finish()
}

// DeleteNode removes a node together with its links.
func (a *App) DeleteNode(key int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	neighbours := models.ConnectedNodes(a.model.Links(), key)
	if err := a.commitLocked(TxDelete, func(m *graph.Model) error { return m.RemoveNodeData(key) }); err != nil {
		return err
	}
	a.logger.Debug("node deleted", zap.Int("node", key), zap.Ints("neighbours", neighbours))
	return nil
}

// DeleteLink removes a link.
func (a *App) DeleteLink(key int) error {
	return a.commit(TxDelete, func(m *graph.Model) error { return m.RemoveLinkData(key) })
}

// SetModelData replaces the metadata record.
func (a *App) SetModelData(meta models.GraphMetadata) error {
	return a.commit(TxSetModelData, func(m *graph.Model) error { return m.SetModelData(meta) })
}

func (a *App) commit(tx string, fn func(*graph.Model) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commitLocked(tx, fn)
}

// commitLocked runs fn in a transaction and syncs. mu must be held.
func (a *App) commitLocked(tx string, fn func(*graph.Model) error) error {
	err := a.model.Commit(tx, fn)
	a.drain()
	if err != nil {
		return err
	}
	return a.finish()
}

// Undo reverts the most recent transaction.
func (a *App) Undo() (graph.ChangeSet, error) {
	return a.history(a.model.Undo)
}

// Redo re-applies the most recently undone transaction.
func (a *App) Redo() (graph.ChangeSet, error) {
	return a.history(a.model.Redo)
}

func (a *App) history(op func() (graph.ChangeSet, error)) (graph.ChangeSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cs, err := op()
	a.drain()
	if err != nil {
		return graph.ChangeSet{}, err
	}
	return cs, a.finish()
}

// Select makes key the selected node.
func (a *App) Select(key int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.model.Select(key); err != nil {
		return err
	}
	a.fireNotify()
	return nil
}

// ClearSelection deselects everything.
func (a *App) ClearSelection() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.model.ClearSelection()
	a.fireNotify()
}

// SetViewport replaces the viewport, as panning and zooming do.
func (a *App) SetViewport(v graph.Viewport) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.model.SetViewport(v)
	a.fireNotify()
}

// finish runs the render-cycle sync after a gesture and notifies observers.
// mu must be held.
func (a *App) finish() error {
	if err := a.sync(); err != nil {
		return err
	}
	a.fireNotify()
	return nil
}
