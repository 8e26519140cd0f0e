package handler

import (
	"bytes"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

var detailTemplate = template.Must(template.New("detail").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:48rem;margin:2rem auto;padding:0 1rem;line-height:1.5}
pre{white-space:pre-wrap;background:#f6f6f6;padding:1rem;border-radius:4px}
.meta{color:#555}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">Status: {{.Status}} &middot; Progress: {{.Progress}}%</p>
{{if .SourceLink}}<p class="meta">Source: <a href="{{.SourceLink}}">{{.SourceLink}}</a></p>{{end}}
{{if .Subtitle}}<pre>{{.Subtitle}}</pre>{{else if .Failed}}<p>Transcription failed.</p>{{else}}<p>Transcription in progress.</p>{{end}}
</body>
</html>
`))

type detailView struct {
	Title      string
	Status     string
	Progress   int
	SourceLink string
	Subtitle   string
	Failed     bool
}

// NewDetailHandler serves GET /detail/{jobID}, the page notification links
// point at.
func NewDetailHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		job, err := st.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("detail page lookup failed", "job_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		view := detailView{
			Title:      job.Title,
			Status:     job.WireStatus(),
			Progress:   job.Progress,
			SourceLink: sourceLink(job),
			Failed:     job.Status == models.JobStatusError,
		}
		if view.Title == "" {
			view.Title = job.ID.String()
		}
		if job.Subtitle != nil {
			view.Subtitle = *job.Subtitle
		}

		var buf bytes.Buffer
		if err := detailTemplate.Execute(&buf, view); err != nil {
			slog.Error("rendering detail page failed", "job_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func sourceLink(job *models.Job) string {
	if strings.HasPrefix(job.SourceRef, "http://") || strings.HasPrefix(job.SourceRef, "https://") ||
		strings.HasPrefix(job.SourceRef, MediaPrefix) {
		return job.SourceRef
	}
	return ""
}
