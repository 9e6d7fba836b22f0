// Package server exposes job submission, schedule management and the
// phase event stream over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shorts-pipeline/events"
	"shorts-pipeline/logger"
	"shorts-pipeline/queue"
	"shorts-pipeline/store"
	"shorts-pipeline/types"
)

const writeWait = 10 * time.Second

// JobQueue is the part of queue.Queue the server uses.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.GenerationJob) error
	Len(ctx context.Context) (int, error)
	Processing() bool
}

// ScheduleCreator validates and stores a new schedule entry.
type ScheduleCreator interface {
	Create(ctx context.Context, entry *types.ScheduleEntry) error
}

// Server holds the HTTP handlers.
type Server struct {
	queue     JobQueue
	store     store.Store
	schedules ScheduleCreator
	events    *events.Registry
	upgrader  websocket.Upgrader
	now       func() time.Time
	log       *zap.SugaredLogger
}

// New creates a Server.
func New(q JobQueue, st store.Store, schedules ScheduleCreator, reg *events.Registry) *Server {
	return &Server{
		queue:     q,
		store:     st,
		schedules: schedules,
		events:    reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
		log: logger.Named("server"),
	}
}

// Router registers every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.createJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/events", s.jobEvents).Methods(http.MethodGet)
	api.HandleFunc("/schedules", s.createSchedule).Methods(http.MethodPost)
	api.HandleFunc("/schedules/{id}", s.getSchedule).Methods(http.MethodGet)
	return r
}

// JobRequest is the body of POST /api/jobs.
type JobRequest struct {
	OwnerID         string     `json:"owner_id"`
	Category        string     `json:"category"`
	DurationSeconds float64    `json:"duration_seconds"`
	AspectRatio     string     `json:"aspect_ratio"`
	Language        string     `json:"language"`
	Country         string     `json:"country"`
	Topic           string     `json:"topic"`
	VoiceID         string     `json:"voice_id"`
	MusicTerm       string     `json:"music_term"`
	Publish         bool       `json:"publish"`
	PublishAt       *time.Time `json:"publish_at"`
}

// Validate rejects requests the pipeline cannot serve.
func (req JobRequest) Validate() error {
	switch req.Category {
	case "", types.CategoryStandard, types.CategoryTop5:
	default:
		return errors.Newf("unknown category %q", req.Category)
	}
	switch req.AspectRatio {
	case "", types.Ratio9x16, types.Ratio16x9, types.Ratio1x1, types.Ratio4x5:
	default:
		return errors.Newf("unsupported aspect ratio %q", req.AspectRatio)
	}
	if req.DurationSeconds < 0 || req.DurationSeconds > 180 {
		return errors.Newf("duration_seconds %v out of range", req.DurationSeconds)
	}
	if req.PublishAt != nil && !req.Publish {
		return errors.New("publish_at requires publish")
	}
	return nil
}

// Job builds a pending job with defaults filled in.
func (req JobRequest) Job(now time.Time) *types.GenerationJob {
	job := &types.GenerationJob{
		ID:              uuid.NewString(),
		OwnerID:         req.OwnerID,
		Category:        req.Category,
		DurationSeconds: req.DurationSeconds,
		AspectRatio:     req.AspectRatio,
		Language:        req.Language,
		Country:         req.Country,
		Topic:           strings.TrimSpace(req.Topic),
		VoiceID:         req.VoiceID,
		MusicTerm:       req.MusicTerm,
		Publish:         req.Publish,
		PublishAt:       req.PublishAt,
		Status:          types.JobPending,
		CreatedAt:       now.UTC(),
	}
	if job.Category == "" {
		job.Category = types.CategoryStandard
	}
	if job.AspectRatio == "" {
		job.AspectRatio = types.Ratio9x16
	}
	if job.Language == "" {
		job.Language = "en"
	}
	return job
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.Len(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queued":     n,
		"processing": s.queue.Processing(),
	})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := req.Job(s.now())
	if err := s.store.SaveJob(r.Context(), job); err != nil {
		s.log.Errorw("save job failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save job")
		return
	}
	s.events.Open(job.ID)
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.log.Errorw("enqueue failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not enqueue job")
		return
	}

	s.log.Infow("job accepted", "job_id", job.ID, "category", job.Category, "topic", job.Topic)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"events_url": "/api/jobs/" + job.ID + "/events",
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err, "job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobEvents upgrades to a websocket, replays the job's events and then
// streams live ones until the terminal event.
func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stream, ok := s.events.Get(id)
	if !ok {
		job, err := s.store.GetJob(r.Context(), id)
		if err != nil {
			s.notFoundOr500(w, err, "job")
			return
		}
		if job.Terminal() {
			writeError(w, http.StatusGone, "event history no longer available")
			return
		}
		stream = s.events.Open(id)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, open := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debugw("websocket write failed", "job_id", id, "error", err)
				return
			}
		}
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var entry types.ScheduleEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if entry.Category == "" {
		entry.Category = types.CategoryStandard
	}
	if entry.AspectRatio == "" {
		entry.AspectRatio = types.Ratio9x16
	}
	entry.ID = ""
	entry.FailCount = 0
	entry.NextRun = time.Time{}
	if err := s.schedules.Create(r.Context(), &entry); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetSchedule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.notFoundOr500(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.log.Errorw("store lookup failed", "what", what, "error", err)
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var _ JobQueue = (*queue.Queue)(nil)
