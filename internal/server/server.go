// Package server exposes the meeting service over HTTP.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"meeting-insights-go/internal/aggregator"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/processor"
	"meeting-insights-go/internal/queue"
	"meeting-insights-go/internal/report"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/types"
)

// Meetings is the job façade the handlers drive.
type Meetings interface {
	Submit(ctx context.Context, req processor.SubmitRequest) (processor.SubmitResult, error)
	Status(ctx context.Context, id string) (types.Job, error)
	List(ctx context.Context, limit, offset int) ([]types.Job, int, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (aggregator.Stats, error)
	Snapshot(ctx context.Context, limit int) ([]types.Job, error)
}

type Deps struct {
	Meetings       Meetings
	Hub            *Hub
	Limiter        *RateLimiter
	AdminToken     string
	AllowedOrigins []string
	MaxUploadBytes int64
	Log            *logger.Logger
}

type Server struct {
	meetings   Meetings
	hub        *Hub
	limiter    *RateLimiter
	adminToken string
	origins    []string
	maxUpload  int64
	log        *logger.Logger
}

func New(d Deps) *Server {
	return &Server{
		meetings:   d.Meetings,
		hub:        d.Hub,
		limiter:    d.Limiter,
		adminToken: d.AdminToken,
		origins:    d.AllowedOrigins,
		maxUpload:  d.MaxUploadBytes,
		log:        d.Log.Component("http"),
	}
}

// multipart framing allowance on top of the file cap
const formOverhead = 1 << 20

// initial websocket snapshot size
const snapshotSize = 100

// Handler builds the routed, CORS-wrapped handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	submit := http.Handler(http.HandlerFunc(s.handleProcessMeeting))
	if s.limiter != nil {
		submit = s.limiter.Middleware(submit)
	}
	mux.Handle("POST /api/process-meeting", submit)
	mux.HandleFunc("GET /api/meeting-status/{job_id}", s.handleStatus)
	mux.HandleFunc("GET /api/meetings", s.handleList)
	mux.HandleFunc("GET /api/meetings/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.Handle("DELETE /admin/meetings/{job_id}", s.requireAdmin(http.HandlerFunc(s.handleDelete)))
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return s.recoverer(s.logRequests(c.Handler(mux)))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Meeting Insights API",
		"status":  "running",
	})
}

func (s *Server) handleProcessMeeting(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "process-meeting")

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, log, fmt.Errorf("%w: file exceeds %d MB", processor.ErrInvalidInput, s.maxUpload>>20))
			return
		}
		s.writeError(w, log, fmt.Errorf("%w: malformed multipart body", processor.ErrInvalidInput))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, log, fmt.Errorf("%w: missing file field", processor.ErrInvalidInput))
		return
	}
	defer file.Close()

	res, err := s.meetings.Submit(r.Context(), processor.SubmitRequest{
		Body:        file,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Title:       r.FormValue("meeting_title"),
	})
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	log.WithField("job_id", res.JobID).Info("meeting accepted")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.meetings.Status(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeError(w, s.log.WithRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type listResponse struct {
	Meetings []types.Job `json:"meetings"`
	Total    int         `json:"total"`
	Limit    int         `json:"limit"`
	Offset   int         `json:"offset"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r)
	limit, err := queryInt(r, "limit", store.DefaultPageSize)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	limit, offset = store.NormalizePage(limit, offset)

	jobs, total, err := s.meetings.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Meetings: jobs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.meetings.Stats(r.Context())
	if err != nil {
		s.writeError(w, s.log.WithRequest(r), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "export")
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	jobs, err := s.meetings.Snapshot(r.Context(), limit)
	if err != nil {
		s.writeError(w, log, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, jobs, aggregator.Aggregate(jobs)); err != nil {
		s.writeError(w, log, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="meetings.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		log.WithError(err).Warn("failed to write export")
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r)
	id := r.PathValue("job_id")
	if err := s.meetings.Delete(r.Context(), id); err != nil {
		s.writeError(w, log, err)
		return
	}
	log.WithField("job_id", id).Info("meeting deleted by admin")
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "deleted"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.meetings.Snapshot(r.Context(), snapshotSize)
	if err != nil {
		s.writeError(w, s.log.WithRequest(r), err)
		return
	}
	s.hub.Serve(w, r, jobs)
}

// requireAdmin checks for "Authorization: Bearer <ADMIN_TOKEN>". With no
// token configured the admin routes are closed.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeJSON(w, http.StatusForbidden, errorBody{Detail: "admin access is disabled"})
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.log.WithRequest(r).Warn("rejected admin request")
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithRequest(r).WithFields(logrus.Fields{
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.WithRequest(r).WithField("panic", fmt.Sprint(p)).Error("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Detail string `json:"detail"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, processor.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrJobActive):
		return http.StatusConflict
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	code := statusFor(err)
	detail := err.Error()
	switch code {
	case http.StatusInternalServerError:
		log.WithError(err).Error("request failed")
		detail = "internal server error"
	case http.StatusServiceUnavailable:
		log.WithError(err).Warn("service busy")
		detail = "server is busy, try again later"
	case http.StatusNotFound:
		detail = "meeting not found"
	default:
		log.WithError(err).Info("request rejected")
	}
	writeJSON(w, code, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", processor.ErrInvalidInput, key)
	}
	return n, nil
}
