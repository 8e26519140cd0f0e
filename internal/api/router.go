package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/subtitler/internal/api/middleware"
	"github.com/kiranshivaraju/subtitler/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	SubmitJob     http.HandlerFunc
	UploadFile    http.HandlerFunc
	ListJobs      http.HandlerFunc
	GetJob        http.HandlerFunc
	JobProgress   http.HandlerFunc
	UpdateJob     http.HandlerFunc
	DeleteJob     http.HandlerFunc
	DetailPage    http.HandlerFunc

	// MediaDir is served read-only under /media/ when set.
	MediaDir string
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.ClientIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
	r.Get("/api/v1/jobs/{jobID}/progress", orNotImplemented(deps.JobProgress))
	r.Get("/detail/{jobID}", orNotImplemented(deps.DetailPage))

	if deps.MediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(noListing{http.Dir(deps.MediaDir)})))
	}

	// Mutating routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}

		r.Patch("/api/v1/jobs/{jobID}", orNotImplemented(deps.UpdateJob))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJob))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJob))
			r.Post("/api/v1/uploads", orNotImplemented(deps.UploadFile))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

// noListing hides directory indexes from the media file server.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
