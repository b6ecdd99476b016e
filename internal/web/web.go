// Package web serves a minimal chat page and a JSON endpoint over the
// dispatcher. Each browser gets its own session, tracked by cookie and
// forgotten after it sits idle; each websocket connection gets its own
// session for its lifetime.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"relay/internal/dispatch"
	"relay/internal/logger"
	"relay/internal/session"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

//go:embed static/index.html
var static embed.FS

// SessionCookie holds the session id of a browser
const SessionCookie = "relay_session"

// Cookie session limits. The least recently used session is dropped when
// the table is full.
const (
	DefaultMaxSessions = 1000
	DefaultSessionTTL  = 30 * time.Minute
)

// maxBody caps request bodies of POST /send
const maxBody = 64 << 10

// Dispatcher runs one turn
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, utterance string) *dispatch.Result
}

// SendRequest is the body of POST /send and of websocket messages
type SendRequest struct {
	Message string `json:"message"`
}

// SendResponse is the reply to a SendRequest
type SendResponse struct {
	Response string `json:"response"`
	State    string `json:"state,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Payload  any    `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler serves the web front end
type Handler struct {
	dispatcher Dispatcher
	logger     *logger.Logger
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	health     func(ctx context.Context) error

	maxSessions int
	sessionTTL  time.Duration
	sessions    *expirable.LRU[string, *session.Session]
}

// Option configures a Handler
type Option func(*Handler)

// WithSessionLimits bounds the cookie session table to max entries, each
// forgotten after ttl without a request
func WithSessionLimits(max int, ttl time.Duration) Option {
	return func(h *Handler) {
		h.maxSessions = max
		h.sessionTTL = ttl
	}
}

// WithHealthCheck makes GET /healthz report fn's error as unavailable
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) { h.health = fn }
}

func NewHandler(d Dispatcher, log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Discard()
	}

	h := &Handler{
		dispatcher:  d,
		logger:      log,
		mux:         http.NewServeMux(),
		maxSessions: DefaultMaxSessions,
		sessionTTL:  DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sessions = expirable.NewLRU[string, *session.Session](h.maxSessions, nil, h.sessionTTL)

	h.mux.HandleFunc("GET /{$}", h.index)
	h.mux.HandleFunc("POST /send", h.send)
	h.mux.HandleFunc("GET /ws", h.ws)
	h.mux.HandleFunc("GET /healthz", h.healthz)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SendResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, SendResponse{Error: "message is required"})
		return
	}

	sess := h.session(w, r)
	res := h.dispatcher.Dispatch(r.Context(), sess, req.Message)
	writeJSON(w, http.StatusOK, toResponse(res))
}

// session returns the browser's session, creating one and setting the
// cookie when the request has none, an unknown id or an expired one
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, ok := h.sessions.Get(c.Value); ok {
			// re-adding restarts the idle timer
			h.sessions.Add(c.Value, sess)
			return sess
		}
	}

	sess := session.New()
	h.sessions.Add(sess.ID(), sess)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return sess
}

func (h *Handler) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := session.New()
	conn.SetReadLimit(maxBody)

	for {
		var req SendRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed: %v", err)
			}
			return
		}

		resp := SendResponse{Error: "message is required"}
		if req.Message != "" {
			resp = toResponse(h.dispatcher.Dispatch(r.Context(), sess, req.Message))
		}
		if err := conn.WriteJSON(resp); err != nil {
			h.logger.Debug("websocket write failed: %v", err)
			return
		}
	}
}

func toResponse(res *dispatch.Result) SendResponse {
	resp := SendResponse{
		Response: res.Text,
		State:    res.State.String(),
		Payload:  res.Payload,
		Error:    res.ErrorKind(),
	}
	if res.Invocation != nil {
		resp.Tool = res.Invocation.Tool
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info("Listening on http://%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
