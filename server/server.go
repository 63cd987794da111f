// Package server exposes the session lifecycle over HTTP: create a session,
// stream files into it, trigger processing, poll status, cancel. Processing
// runs asynchronously; callers learn the outcome by polling, never from the
// trigger response.
package server

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/session"
)

// Server serves the session HTTP surface.
type Server struct {
	manager *session.Manager
	log     *zap.Logger
}

// New creates a Server around manager.
func New(manager *session.Manager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{manager: manager, log: log}
}

// Routes builds the router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.cancelSession)
			r.Post("/files", s.addFiles)
			r.Post("/process", s.processSession)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Create(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, sess)
}

// addFiles ingests one or more files from a multipart/form-data body. Each
// part's filename is taken as the file's logical path within the batch.
func (s *Server) addFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	reader, err := r.MultipartReader()
	if err != nil {
		s.fail(w, r, uperrors.NewError("addFiles",
			errors.Join(uperrors.ErrInvalidInput, err)).
			WithMessage("expected a multipart/form-data body"))
		return
	}

	var sess *session.Session
	received := 0
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		// Part.FileName strips directories, which would flatten nested
		// logical paths; read the raw filename parameter instead. Escapes
		// are rejected by the ingest path.
		name := rawFileName(part)
		if name == "" {
			_ = part.Close()
			continue
		}
		sess, err = s.manager.AddFile(id, name, part)
		_ = part.Close()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		received++
	}

	if received == 0 {
		s.fail(w, r, uperrors.NewError("addFiles", uperrors.ErrInvalidInput).
			WithMessage("no file parts in request"))
		return
	}
	render.JSON(w, r, sess)
}

func (s *Server) processSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Process(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, sess)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Cancel(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, sess)
}

// rawFileName returns the part's filename parameter with any directory
// components intact.
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

type errorResponse struct {
	Error string `json:"error"`
}

// fail maps domain errors onto HTTP statuses and renders the error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, uperrors.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, uperrors.ErrSessionExpired):
		status = http.StatusGone
	case errors.Is(err, uperrors.ErrSessionConflict):
		status = http.StatusConflict
	case errors.Is(err, uperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
