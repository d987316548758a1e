// Package diagram is the application shell around the graph model. It owns
// the application's copies of the node, link and metadata collections, runs
// user gestures against the model inside transactions and reconciles the
// resulting change-sets back into its own collections.
//
// All App methods are serialized by one mutex. The model's change channel is
// drained synchronously before a method returns, so callers always observe
// collections that include the effects of their own gesture.
package diagram

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/TFMV/flowboard/datasync"
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/render"
)

// DefaultTitle is the document title before the modified marker.
const DefaultTitle = "flowboard"

// ErrUnsavedChanges is returned by Reload while the diagram has edits that
// were not saved.
var ErrUnsavedChanges = errors.New("unsaved changes")

// changeBuffer bounds the change-sets one gesture may produce before the
// shell drains them. Every gesture produces at most one.
const changeBuffer = 16

// AppState is the application's own copy of the diagram data.
// SkipsDiagramUpdate is set when the collections were last written from a
// model change-set, so the next Sync does not push them back into the model.
type AppState struct {
	NodeData           []models.NodeRecord  `json:"nodeDataArray"`
	LinkData           []models.LinkRecord  `json:"linkDataArray"`
	ModelData          models.GraphMetadata `json:"modelData"`
	SkipsDiagramUpdate bool                 `json:"skipsDiagramUpdate"`
}

// Dataset returns a copy of the collections.
func (s AppState) Dataset() models.Dataset {
	return models.Dataset{
		Nodes:     models.CloneNodes(s.NodeData),
		Links:     models.CloneLinks(s.LinkData),
		ModelData: s.ModelData.Clone(),
	}
}

func (s AppState) clone() AppState {
	ds := s.Dataset()
	return AppState{
		NodeData:           ds.Nodes,
		LinkData:           ds.Links,
		ModelData:          ds.ModelData,
		SkipsDiagramUpdate: s.SkipsDiagramUpdate,
	}
}

// Snapshot is everything a view needs to draw the diagram.
type Snapshot struct {
	State     AppState       `json:"state"`
	Selection *int           `json:"selection"`
	Viewport  graph.Viewport `json:"viewport"`
	Modified  bool           `json:"modified"`
	Title     string         `json:"title"`
	History   bool           `json:"history"`
	CanUndo   bool           `json:"canUndo"`
	CanRedo   bool           `json:"canRedo"`
	UndoName  string         `json:"undoName,omitempty"`
	RedoName  string         `json:"redoName,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithTemplates replaces the default template configuration.
func WithTemplates(t render.Templates) Option {
	return func(a *App) { a.templates = t }
}

// WithHistory configures the model's undo manager.
func WithHistory(enabled bool, maxEntries int) Option {
	return func(a *App) { a.modelOpts = append(a.modelOpts, graph.WithHistory(enabled, maxEntries)) }
}

// WithViewport sets the initial viewport.
func WithViewport(v graph.Viewport) Option {
	return func(a *App) { a.modelOpts = append(a.modelOpts, graph.WithViewport(v)) }
}

// WithTitle sets the document title.
func WithTitle(title string) Option {
	return func(a *App) { a.title = title }
}

// WithNotify registers fn to be called after every visible state change.
// fn runs with the App lock held and must not call back into the App.
func WithNotify(fn func()) Option {
	return func(a *App) { a.notify = append(a.notify, fn) }
}

// WithChangeHook registers fn to be called with every change-set the shell
// applies. fn runs with the App lock held and must not call back into the App.
func WithChangeHook(fn func(graph.ChangeSet)) Option {
	return func(a *App) { a.hooks = append(a.hooks, fn) }
}

// App is the application shell.
type App struct {
	mu sync.Mutex

	state     AppState
	model     *graph.Model
	changes   chan graph.ChangeSet
	templates render.Templates
	logger    *zap.Logger
	title     string

	modelOpts []graph.Option
	notify    []func()
	hooks     []func(graph.ChangeSet)
}

// New creates an App holding ds.
func New(ds models.Dataset, opts ...Option) (*App, error) {
	a := &App{
		changes:   make(chan graph.ChangeSet, changeBuffer),
		templates: render.DefaultTemplates(),
		logger:    zap.NewNop(),
		title:     DefaultTitle,
	}
	for _, opt := range opts {
		opt(a)
	}

	modelOpts := append([]graph.Option{
		graph.WithChangeSink(a.changes),
		graph.WithLogger(a.logger.Named("graph")),
	}, a.modelOpts...)
	a.model = graph.New(modelOpts...)

	if err := a.model.Load(ds); err != nil {
		return nil, err
	}
	a.state = stateFrom(a.model.Dataset())
	for _, w := range a.state.warnings() {
		a.logger.Warn("dataset is not well formed", zap.String("warning", w))
	}
	return a, nil
}

func (s AppState) warnings() []string {
	return append(models.CheckWellFormed(s.NodeData), models.CheckReachability(s.NodeData, s.LinkData)...)
}

func stateFrom(ds models.Dataset) AppState {
	return AppState{NodeData: ds.Nodes, LinkData: ds.Links, ModelData: ds.ModelData}
}

// HandleModelChange is the sync callback: it replaces the application's
// collections with the resulting state carried by cs and marks the state as
// coming from the model.
func (a *App) HandleModelChange(cs graph.ChangeSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handleModelChange(cs)
	a.fireNotify()
}

func (a *App) handleModelChange(cs graph.ChangeSet) {
	a.state.SkipsDiagramUpdate = true
	a.state.NodeData = datasync.SyncNodeData(cs, a.state.NodeData)
	a.state.LinkData = datasync.SyncLinkData(cs, a.state.LinkData)
	a.state.ModelData = datasync.SyncModelData(cs, a.state.ModelData)

	a.logger.Debug("model change applied",
		zap.String("changeSet", cs.ID),
		zap.String("transaction", cs.Transaction),
		zap.String("kind", string(cs.Kind)),
	)
	for _, hook := range a.hooks {
		hook(cs)
	}
}

// drain applies every pending change-set in order. mu must be held.
func (a *App) drain() {
	for {
		select {
		case cs := <-a.changes:
			a.handleModelChange(cs)
		default:
			return
		}
	}
}

// Sync pushes the application's collections into the model, unless they
// were last written from a model change-set, and clears that flag.
func (a *App) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sync()
}

func (a *App) sync() error {
	skip := a.state.SkipsDiagramUpdate
	a.state.SkipsDiagramUpdate = false
	if skip {
		return nil
	}
	if err := a.model.Merge(a.state.Dataset()); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// SetState replaces the application's collections and pushes them into the
// model. Invalid data leaves both untouched.
func (a *App) SetState(ds models.Dataset) error {
	if err := models.Validate(ds.Nodes, ds.Links); err != nil {
		return fmt.Errorf("set state: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setState(ds)
}

// Reload replaces the collections with ds as read back from the dataset file
// and marks the result saved. While there are unsaved edits it returns
// ErrUnsavedChanges and keeps them.
func (a *App) Reload(ds models.Dataset) error {
	if err := models.Validate(ds.Nodes, ds.Links); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.model.IsModified() {
		return ErrUnsavedChanges
	}
	if err := a.setState(ds); err != nil {
		return err
	}
	a.model.MarkSaved()
	return nil
}

// setState does the work of SetState. mu must be held.
func (a *App) setState(ds models.Dataset) error {
	if ds.ModelData == nil {
		ds.ModelData = a.state.ModelData
	}
	a.state = stateFrom(ds.Clone())
	if err := a.sync(); err != nil {
		return err
	}
	a.logger.Info("state replaced",
		zap.Int("nodes", len(a.state.NodeData)),
		zap.Int("links", len(a.state.LinkData)),
	)
	a.fireNotify()
	return nil
}

// State returns a copy of the application's collections.
func (a *App) State() AppState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Dataset returns the model's collections.
func (a *App) Dataset() models.Dataset {
	return a.model.Dataset()
}

// Templates returns the template configuration.
func (a *App) Templates() render.Templates {
	return a.templates
}

// Modified reports whether there are unsaved changes.
func (a *App) Modified() bool {
	return a.model.IsModified()
}

// Title returns the document title, with "*" appended while modified.
func (a *App) Title() string {
	return titleFor(a.title, a.model.IsModified())
}

func titleFor(base string, modified bool) string {
	base = strings.TrimSuffix(base, "*")
	if modified {
		return base + "*"
	}
	return base
}

// Snapshot returns the state a view renders from.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.model.History()
	snap := Snapshot{
		State:    a.state.clone(),
		Viewport: a.model.Viewport(),
		Modified: a.model.IsModified(),
		Title:    titleFor(a.title, a.model.IsModified()),
		History:  h.Enabled(),
		CanUndo:  h.CanUndo(),
		CanRedo:  h.CanRedo(),
		UndoName: h.UndoName(),
		RedoName: h.RedoName(),
		Warnings: a.state.warnings(),
	}
	if key, ok := a.model.Selection(); ok {
		snap.Selection = &key
	}
	return snap
}

// Save writes the model's collections to path and clears the modified flag.
func (a *App) Save(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ingest.Save(path, a.model.Dataset()); err != nil {
		return err
	}
	a.model.MarkSaved()
	a.logger.Info("dataset saved", zap.String("path", path))
	a.fireNotify()
	return nil
}

func (a *App) fireNotify() {
	for _, fn := range a.notify {
		fn()
	}
}

// IsNotFound reports whether err names a node or link that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, graph.ErrNodeNotFound) || errors.Is(err, graph.ErrLinkNotFound)
}
