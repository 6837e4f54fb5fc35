package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"campus-utilities/internal/services"
	"campus-utilities/pkg/logging"
)

const (
	writeWait = 10 * time.Second
	// large enough for a base64 encoded upload
	maxSocketMessage = 2 * maxUploadBytes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EditorMessage is sent by the client. Type is one of open, edit, flush
// or import; Data carries the file bytes of an import, base64 encoded.
type EditorMessage struct {
	Type     string                     `json:"type"`
	Catalog  string                     `json:"catalog,omitempty"`
	Period   string                     `json:"period,omitempty"`
	Values   map[string]json.RawMessage `json:"values,omitempty"`
	Filename string                     `json:"filename,omitempty"`
	Data     []byte                     `json:"data,omitempty"`
}

// EditorEvent is pushed to the client
type EditorEvent struct {
	Type     string                   `json:"type"`
	Snapshot *services.EditorSnapshot `json:"snapshot,omitempty"`
	Import   *services.ImportResult   `json:"import,omitempty"`
	Error    *ErrorResponse           `json:"error,omitempty"`
}

// editorConn serializes writes; gorilla connections allow one writer
type editorConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *editorConn) send(ev EditorEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// close sends a close frame and closes the connection, which ends the
// session's read loop
func (c *editorConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.conn.Close()
}

type editorSession struct {
	conn   *editorConn
	editor *services.Editor
	userID string
}

// track registers a session unless the handler is draining
func (h *Handler) track(s *editorSession) bool {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	if h.draining {
		return false
	}
	h.sessions[s] = struct{}{}
	h.sessionWG.Add(1)
	return true
}

func (h *Handler) untrack(s *editorSession) {
	h.sessionsMu.Lock()
	delete(h.sessions, s)
	h.sessionsMu.Unlock()
	h.sessionWG.Done()
}

func (h *Handler) isDraining() bool {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	return h.draining
}

// DrainEditors saves the pending edits of every open editing session, closes
// the sockets and waits until the sessions have finished or ctx is done. New
// sessions are refused from then on. http.Server.Shutdown does not track
// websocket connections, so servers call this before closing the database.
func (h *Handler) DrainEditors(ctx context.Context) error {
	h.sessionsMu.Lock()
	h.draining = true
	sessions := make([]*editorSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessionsMu.Unlock()

	h.logger.Info(ctx, "[WS_DRAIN] Saving open editing sessions", logging.Fields{
		"sessions": len(sessions),
	})

	for _, s := range sessions {
		if s.editor.Pending() {
			if err := s.editor.Flush(); err != nil && !errors.Is(err, services.ErrEditorClosed) {
				h.logger.Error(ctx, "[WS_DRAIN_ERROR] Pending edits could not be saved on shutdown", logging.Fields{
					"user_id": s.userID,
				}, err)
			}
		}
		s.conn.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.sessionWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EditorSocket handles GET /ws/editor. Each connection owns one editing
// session; a disconnect saves pending edits and closes the session.
func (h *Handler) EditorSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestUser(r)

	if h.isDraining() {
		h.sendError(w, r, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(ctx, "[WS_UPGRADE_ERROR] Websocket upgrade failed", logging.Fields{
			"error": err.Error(),
		})
		h.metrics.RecordAPIError("ws_upgrade", "/ws/editor")
		return
	}
	conn.SetReadLimit(maxSocketMessage)

	h.metrics.ActiveConnections.Inc()
	c := &editorConn{conn: conn}
	editor := services.NewEditor(h.periods, h.readings, h.imports, userID, h.autosaveDelay, h.logger, h.metrics)
	session := &editorSession{conn: c, editor: editor, userID: userID}
	tracked := h.track(session)

	defer func() {
		if editor.Pending() {
			if err := editor.Flush(); err != nil {
				h.logger.Error(ctx, "[WS_FLUSH_ERROR] Pending edits could not be saved on disconnect", logging.Fields{
					"user_id": userID,
				}, err)
			}
		}
		editor.Close()
		conn.Close()
		h.metrics.ActiveConnections.Dec()

		h.logger.Info(ctx, "[WS_DISCONNECTED] Editing session closed", logging.Fields{
			"user_id": userID,
		})
		if tracked {
			h.untrack(session)
		}
	}()

	if !tracked {
		c.close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	editor.OnChange(func(snap services.EditorSnapshot) {
		if err := c.send(EditorEvent{Type: "snapshot", Snapshot: &snap}); err != nil {
			h.logger.Debug(ctx, "[WS_WRITE_ERROR] Snapshot not delivered", logging.Fields{
				"error": err.Error(),
			})
		}
	})

	h.logger.Info(ctx, "[WS_CONNECTED] Editing session opened", logging.Fields{
		"user_id": userID,
	})

	q := r.URL.Query()
	if q.Get("catalog") != "" && q.Get("period") != "" {
		h.handleEditorMessage(ctx, c, editor, EditorMessage{Type: "open", Catalog: q.Get("catalog"), Period: q.Get("period")})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn(ctx, "[WS_READ_ERROR] Connection lost", logging.Fields{
					"error": err.Error(),
				})
			}
			return
		}

		var msg EditorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendEditorError(c, errors.New("message is not valid JSON"), http.StatusBadRequest)
			continue
		}
		h.handleEditorMessage(ctx, c, editor, msg)
	}
}

func (h *Handler) handleEditorMessage(ctx context.Context, c *editorConn, editor *services.Editor, msg EditorMessage) {
	var err error

	switch msg.Type {
	case "open":
		_, err = editor.Open(ctx, msg.Catalog, msg.Period)
		if errors.Is(err, services.ErrSuperseded) {
			err = nil
		}
	case "edit":
		var edits map[string]string
		edits, err = rawValues(msg.Values)
		if err == nil {
			_, err = editor.Edit(edits)
		}
	case "flush":
		err = editor.Flush()
	case "import":
		var result *services.ImportResult
		result, err = editor.Import(ctx, msg.Filename, msg.Data)
		if err == nil {
			c.send(EditorEvent{Type: "import", Import: result})
		}
	default:
		h.sendEditorError(c, errors.New("unknown message type "+msg.Type), http.StatusBadRequest)
		return
	}

	if err != nil {
		status, _ := classify(err)
		h.sendEditorError(c, err, status)
	}
}

func (h *Handler) sendEditorError(c *editorConn, err error, status int) {
	_, details := classify(err)
	c.send(EditorEvent{
		Type: "error",
		Error: &ErrorResponse{
			Error:   http.StatusText(status),
			Message: err.Error(),
			Code:    status,
			Details: details,
		},
	})
}
