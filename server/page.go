package server

import (
	"html/template"
	"net/http"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <script type="module" src="{{.Script}}"></script>
  <style>
    body { font-family: helvetica, arial, sans-serif; margin: 0; background: #f5f5f5; color: #333; }
    header { display: flex; gap: 8px; align-items: center; padding: 8px 16px; background: white; box-shadow: 0 1px 4px rgba(0,0,0,.12); }
    header h1 { font-size: 16px; margin: 0 16px 0 0; }
    button { background: #7986cb; color: white; border: none; padding: 6px 14px; border-radius: 4px; cursor: pointer; }
    button:disabled { background: #bbb; cursor: default; }
    #diagram { margin: 16px; background: white; border: 1px solid #ddd; overflow: auto; }
    #diagram svg { display: block; }
  </style>
</head>
<body data-signals='{{.Signals}}'>
  <header>
    <h1 data-text="$title">{{.Title}}</h1>
    <button data-show="$history" data-on:click="@post('/api/undo')" data-attr:disabled="!$canUndo">Undo</button>
    <button data-show="$history" data-on:click="@post('/api/redo')" data-attr:disabled="!$canRedo">Redo</button>
    <button data-on:click="@post('/api/save')" data-attr:disabled="!$modified">Save</button>
  </header>
  <div data-init="@get('/api/updates')"></div>
  <div id="diagram">{{.SVG}}</div>
  <script>
    const diagram = document.getElementById('diagram');
    diagram.addEventListener('click', (e) => {
      const button = e.target.closest('[data-action="addNodeAndLink"]');
      if (button) {
        const key = button.closest('.selection').dataset.key;
        fetch('/api/nodes/' + key + '/successor', { method: 'POST' });
        return;
      }
      const node = e.target.closest('.node');
      if (node) {
        fetch('/api/selection/' + node.dataset.key, { method: 'POST' });
      } else {
        fetch('/api/selection', { method: 'DELETE' });
      }
    });
    diagram.addEventListener('dblclick', (e) => {
      const svg = diagram.querySelector('svg');
      if (!svg || e.target.closest('.node')) return;
      const p = new DOMPoint(e.clientX, e.clientY).matrixTransform(svg.getScreenCTM().inverse());
      fetch('/api/nodes', {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ x: p.x, y: p.y }),
      });
    });
  </script>
</body>
</html>
`))

type indexData struct {
	Title   string
	Script  string
	Signals string
	SVG     template.HTML
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Snapshot()

	svg, err := s.renderDiagram(r, "svg")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signals, err := jsonString(signalsFrom(snap))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		Title:   snap.Title,
		Script:  datastarScript,
		Signals: signals,
		SVG:     template.HTML(svg),
	}); err != nil {
		s.logger.Sugar().Warnf("rendering index: %v", err)
	}
}
