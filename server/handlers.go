package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"

	"github.com/TFMV/flowboard/diagram"
	"github.com/TFMV/flowboard/graph"
	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/render"
)

// ErrNoDatasetPath is returned by the save endpoint when the server was
// started without a dataset file.
var ErrNoDatasetPath = errors.New("no dataset file configured")

var validate = validator.New()

type createNodeRequest struct {
	Key *int     `json:"key"`
	X   *float64 `json:"x" validate:"required"`
	Y   *float64 `json:"y" validate:"required"`
}

type updateNodeRequest struct {
	Text *string `json:"text" validate:"required_without=Loc"`
	Loc  *string `json:"loc" validate:"required_without=Text"`
}

type createLinkRequest struct {
	Key       *int     `json:"key"`
	From      *int     `json:"from" validate:"required"`
	To        *int     `json:"to" validate:"required"`
	Text      string   `json:"text"`
	Progress  bool     `json:"progress"`
	Curviness *float64 `json:"curviness"`
}

type updateLinkRequest struct {
	Text     *string   `json:"text"`
	Progress *bool     `json:"progress"`
	From     *int      `json:"from" validate:"required_with=To"`
	To       *int      `json:"to" validate:"required_with=From"`
	Points   []float64 `json:"points"`
	Straight bool      `json:"straight"`
}

type viewportRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
	Scale  float64 `json:"scale" validate:"gt=0"`
}

// viewSignals are the datastar signals patched on every change.
type viewSignals struct {
	Nodes     []models.NodeRecord  `json:"nodes"`
	Links     []models.LinkRecord  `json:"links"`
	ModelData models.GraphMetadata `json:"modelData"`
	Selection *int                 `json:"selection"`
	Viewport  graph.Viewport       `json:"viewport"`
	Modified  bool                 `json:"modified"`
	Title     string               `json:"title"`
	History   bool                 `json:"history"`
	CanUndo   bool                 `json:"canUndo"`
	CanRedo   bool                 `json:"canRedo"`
}

func signalsFrom(snap diagram.Snapshot) viewSignals {
	return viewSignals{
		Nodes:     snap.State.NodeData,
		Links:     snap.State.LinkData,
		ModelData: snap.State.ModelData,
		Selection: snap.Selection,
		Viewport:  snap.Viewport,
		Modified:  snap.Modified,
		Title:     snap.Title,
		History:   snap.History,
		CanUndo:   snap.CanUndo,
		CanRedo:   snap.CanRedo,
	}
}

// badRequest marks client errors found before the diagram is touched.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// statusFor maps an error onto the HTTP status the API reports for it.
func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, models.ErrMalformedLocation),
		errors.Is(err, diagram.ErrInvalidRoute):
		return http.StatusBadRequest
	case diagram.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDanglingLink),
		errors.Is(err, models.ErrDuplicateKey),
		errors.Is(err, graph.ErrNothingToUndo),
		errors.Is(err, graph.ErrNothingToRedo),
		errors.Is(err, graph.ErrTransactionInProgress),
		errors.Is(err, diagram.ErrNoSelection),
		errors.Is(err, ErrNoDatasetPath):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{fmt.Errorf("decoding request: %w", err)}
	}
	if err := validate.Struct(v); err != nil {
		return badRequest{fmt.Errorf("invalid request: %w", err)}
	}
	return nil
}

func keyParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "key")
	key, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid key %q", raw)}
	}
	return key, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"revision": s.notifier.Revision(),
		"streams":  s.notifier.Len(),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	out, err := ingest.Marshal(s.app.Dataset())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) handleRender(format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.renderDiagram(r, format)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(out)
	}
}

func (s *Server) renderDiagram(r *http.Request, format string) ([]byte, error) {
	snap := s.app.Snapshot()
	opts := s.renderOptions(format)
	opts.Selected = snap.Selection
	opts.Title = snap.Title
	return render.GenerateWithOptions(r.Context(), snap.State.Dataset(), opts)
}

func (s *Server) renderOptions(format string) *render.OutputOptions {
	opts := render.NewDefaultOptions(format)
	opts.Layout = s.cfg.Layout
	tmpl := s.app.Templates()
	opts.Templates = &tmpl
	if s.cfg.Render.Background != "" {
		opts.Background = s.cfg.Render.Background
	}
	return opts
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Templates())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.app.Snapshot())
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := models.Point{X: *req.X, Y: *req.Y}

	var node models.NodeRecord
	var err error
	if req.Key != nil {
		node, err = s.app.InsertNodeAt(*req.Key, p)
	} else {
		node, err = s.app.AddNodeAt(p)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateNodeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	edit := diagram.NodeEdit{Text: req.Text}
	if req.Loc != nil {
		p, err := models.ParsePoint(*req.Loc)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		edit.Loc = &p
	}
	node, err := s.app.UpdateNode(key, edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err == nil {
		err = s.app.DeleteNode(key)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuccessor(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	succ, err := s.app.AddNodeAndLink(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, succ)
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l := models.LinkRecord{
		From:      *req.From,
		To:        *req.To,
		Text:      req.Text,
		Progress:  models.Progress(req.Progress),
		Curviness: req.Curviness,
	}

	var link models.LinkRecord
	var err error
	if req.Key != nil {
		l.Key = *req.Key
		link, err = s.app.InsertLink(l)
	} else {
		link, err = s.app.AddLink(l)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateLinkRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	link, err := s.app.UpdateLink(key, req.edit())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, link)
}

func (req updateLinkRequest) edit() diagram.LinkEdit {
	return diagram.LinkEdit{
		From:     req.From,
		To:       req.To,
		Text:     req.Text,
		Progress: req.Progress,
		Reshape:  req.Points != nil || req.Straight,
		Route:    req.Points,
	}
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err == nil {
		err = s.app.DeleteLink(key)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err == nil {
		err = s.app.Select(key)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.app.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := graph.Viewport(req)
	s.app.SetViewport(v)
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleModelData(w http.ResponseWriter, r *http.Request) {
	var meta models.GraphMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		s.writeError(w, r, badRequest{fmt.Errorf("decoding model data: %w", err)})
		return
	}
	if err := s.app.SetModelData(meta); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.app.Dataset().ModelData)
}

func (s *Server) handleHistory(op func() (graph.ChangeSet, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs, err := op()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, cs)
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DatasetPath == "" {
		s.writeError(w, r, ErrNoDatasetPath)
		return
	}
	if err := s.app.Save(s.cfg.DatasetPath); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"saved": s.cfg.DatasetPath})
}

// handleUpdates is the long-lived datastar stream. It sends the current view
// once, then again after every change until the client goes away or the
// server shuts down.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	updates, cancel := s.notifier.Subscribe()
	defer cancel()

	if err := s.pushView(r, sse); err != nil {
		_ = sse.ConsoleError(err)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := s.pushView(r, sse); err != nil {
				_ = sse.ConsoleError(err)
			}
		}
	}
}

func (s *Server) pushView(r *http.Request, sse *datastar.ServerSentEventGenerator) error {
	snap := s.app.Snapshot()
	if err := sse.MarshalAndPatchSignals(signalsFrom(snap)); err != nil {
		return err
	}

	opts := s.renderOptions("svg")
	opts.Selected = snap.Selection
	opts.Title = snap.Title
	svg, err := render.GenerateWithOptions(r.Context(), snap.State.Dataset(), opts)
	if err != nil {
		return err
	}
	return sse.PatchElements(`<div id="diagram">` + string(svg) + `</div>`)
}
