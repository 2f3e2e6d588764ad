package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iTrooz/offline-cache/internal/outbox"
	"github.com/iTrooz/offline-cache/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// AdminPrefix is where the control API lives in direct mode
const AdminPrefix = "/_sw"

// router handles requests made to the proxy itself rather than through it:
// the control API, and the site served as if the proxy were its origin.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/generations", s.handleGenerations)
		r.Post("/push", s.handlePush)
		r.Post("/sync/{tag}", s.handleSync)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/click", s.handleNotificationClick)
		r.Post("/contact", s.handleContact)
		r.Get("/contact", s.handleOutbox)
		r.Get("/windows", s.handleWindows)
	})
	r.Handle("/*", http.HandlerFunc(s.handleDirect))

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithField("request_id", middleware.GetReqID(r.Context())).
			Debugf("%s %s -> %d in %s", r.Method, r.URL.RequestURI(), ww.Status(), time.Since(start))
	})
}

// handleDirect serves the site as if the proxy were its origin
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	target := *s.origin
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery

	requ := r.Clone(r.Context())
	requ.URL = &target
	requ.Host = s.origin.Host
	requ.RequestURI = ""

	resp := s.serve(requ)
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}

type statusResponse struct {
	Origin             string `json:"origin"`
	Current            string `json:"current"`
	State              string `json:"state,omitempty"`
	Waiting            string `json:"waiting,omitempty"`
	Controlled         bool   `json:"controlled"`
	PendingSubmissions int    `json:"pending_submissions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.outbox.Len(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		Origin:             s.origin.String(),
		Current:            s.registration.Current(),
		Controlled:         s.clients.Claimed(),
		PendingSubmissions: pending,
	}
	if m := s.registration.Active(); m != nil {
		resp.State = m.State().String()
	}
	if m := s.registration.Waiting(); m != nil {
		resp.Waiting = m.Tag()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := ListGenerations(r.Context(), s.storage, s.registration.Current())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gens)
}

// pushEnvelope is the JSON form of a push message. A missing or null data
// field means no payload; an empty string is an empty payload.
type pushEnvelope struct {
	Data *string `json:"data"`
}

// handlePush delivers a push message. A raw body is the payload, and an empty
// one means no payload. A JSON body is read as a pushEnvelope.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	msg, err := decodePush(r)
	if err != nil {
		writeError(w, err)
		return
	}

	before := len(s.notifications.List())
	if err := s.registration.Push(r.Context(), msg).Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	shown := s.notifications.List()
	if len(shown) > before {
		writeJSON(w, http.StatusCreated, shown[len(shown)-1])
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if err := s.registration.Sync(r.Context(), tag).Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifications.List())
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, ok := s.notifications.Get(id)
	if !ok {
		writeError(w, errors.Newf(errors.CodeNotFound, "notification %s not found", id))
		return
	}
	if err := s.registration.NotificationClick(r.Context(), n).Wait(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.clients.Windows())
}

// handleContact queues a contact form submission and requests a background
// sync to relay it. Both JSON and form-encoded bodies are accepted.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err = s.outbox.Enqueue(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	logrus.WithField("submission", sub.ID).Info("Queued contact message")

	task := s.registration.Sync(r.Context(), s.config.Sync.Tag)
	go logTask(task)

	writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	pending, err := s.outbox.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []outbox.Submission{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.clients.Windows())
}

func decodePush(r *http.Request) (worker.PushMessage, error) {
	var msg worker.PushMessage
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var env pushEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			return msg, errors.Wrap(err, errors.CodeInvalidInput, "invalid push message")
		}
		if env.Data != nil {
			msg.Data = []byte(*env.Data)
		}
		return msg, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return msg, errors.Wrap(err, errors.CodeInvalidInput, "failed to read push payload")
	}
	if len(body) > 0 {
		msg.Data = body
	}
	return msg, nil
}

func decodeSubmission(r *http.Request) (outbox.Submission, error) {
	var sub outbox.Submission
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			return sub, errors.Wrap(err, errors.CodeInvalidInput, "invalid contact message")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return sub, errors.Wrap(err, errors.CodeInvalidInput, "invalid contact form")
		}
		sub = outbox.Submission{
			Name:    r.PostForm.Get("name"),
			Email:   r.PostForm.Get("email"),
			Subject: r.PostForm.Get("subject"),
			Message: r.PostForm.Get("message"),
		}
	}
	sub.ID = ""

	required := []struct{ field, value string }{
		{"name", sub.Name},
		{"email", sub.Email},
		{"message", sub.Message},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return sub, errors.WithContext(errors.New(errors.CodeInvalidInput, "missing required field"), "field", f.field)
		}
	}
	return sub, nil
}

// logTask reports the outcome of a task nobody waits for
func logTask(t *worker.Task) {
	if err := t.Wait(context.Background()); err != nil {
		logrus.Warnf("Background %s failed: %v", t.Name(), err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errors.ToJSON(err)
	writeJSON(w, httpStatus(errors.GetCode(err)), resp)
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeNetwork, errors.CodeExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
