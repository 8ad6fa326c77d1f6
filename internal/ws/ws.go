// Package ws adapts the chat protocol to a WebSocket transport. Each
// connection owns one event loop goroutine and one session, so events from a
// single client are processed strictly in order. Timer-delayed emissions go
// through a mutex-guarded writer.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aulaviva/tutoria/internal/chat"
	appI18n "github.com/aulaviva/tutoria/internal/i18n"
	"github.com/aulaviva/tutoria/internal/model"
)

const (
	frameMessage = "chat message"
	frameError   = "chat error"

	sessionCookieName = "session"

	maxFrameBytes = 64 * 1024
)

// AuthStore resolves the optional session cookie into a user.
type AuthStore interface {
	GetAuthSession(token string) (*model.AuthSession, error)
	GetUserByID(id int64) (*model.User, error)
}

// frame is the envelope for every message in either direction.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inboundFrame struct {
	Event string       `json:"event"`
	Data  chat.Inbound `json:"data"`
}

// conn wraps a websocket connection with a write lock. Delayed continuation
// and end events fire from timer goroutines after the read loop has moved on.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame{Event: frameMessage, Data: v})
}

func (c *conn) SendError(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame{Event: frameError, Data: msg})
}

// Server upgrades HTTP requests and runs the per-connection event loop.
type Server struct {
	handler  *chat.Handler
	auth     AuthStore
	lang     string
	upgrader websocket.Upgrader
}

// NewServer creates the WebSocket endpoint. auth may be nil to disable
// cookie-based user resolution.
func NewServer(handler *chat.Handler, auth AuthStore, lang string) *Server {
	return &Server{
		handler: handler,
		auth:    auth,
		lang:    lang,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement happens at the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and blocks in the read loop until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := s.resolveUser(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameBytes)

	c := &conn{ws: ws}
	sess := chat.NewSession(user)

	// The request context dies with the HTTP handler on some servers, and the
	// localizer normally rides the request. Rebuild both on a context tied to
	// the connection's lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(s.lang))

	logAttrs := []any{"remote", r.RemoteAddr}
	if user != nil {
		logAttrs = append(logAttrs, "user_id", user.ID)
	}
	slog.Info("websocket connected", logAttrs...)

	for {
		// Transport errors end the connection; decode errors do not. A frame
		// that fails to unmarshal is reported as a chat error and the session
		// stays intact.
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err)
			}
			break
		}

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			slog.Warn("malformed frame", "error", err)
			if err := c.SendError(appI18n.T(ctx, "ProcessingError")); err != nil {
				break
			}
			continue
		}
		if in.Event != frameMessage {
			if err := c.SendError(appI18n.T(ctx, "ProcessingError")); err != nil {
				break
			}
			continue
		}
		s.handler.Dispatch(ctx, sess, in.Data, c)
	}

	slog.Info("websocket disconnected", logAttrs...)
}

// resolveUser returns the user for the request's session cookie, or nil for
// anonymous connections. Lookup failures downgrade to anonymous.
func (s *Server) resolveUser(r *http.Request) *model.User {
	if s.auth == nil {
		return nil
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	authSess, err := s.auth.GetAuthSession(cookie.Value)
	if err != nil {
		slog.Error("auth session lookup failed", "error", err)
		return nil
	}
	if authSess == nil {
		return nil
	}
	user, err := s.auth.GetUserByID(authSess.UserID)
	if err != nil {
		slog.Error("user lookup failed", "user_id", authSess.UserID, "error", err)
		return nil
	}
	return user
}
