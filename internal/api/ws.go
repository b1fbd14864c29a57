package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/benchrunner/internal/model"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one frame of the run socket. Progress frames carry a log line;
// the final done frame carries the finished run.
type wsMessage struct {
	Type string     `json:"type"`
	Line string     `json:"line,omitempty"`
	Run  *model.Run `json:"run,omitempty"`
}

const (
	wsTypeProgress = "progress"
	wsTypeDone     = "done"
)

// handleRunSocket streams a run's progress lines over a WebSocket and ends with
// the run's final state.
func (s *Server) handleRunSocket(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runOr404(w, r)
	if !ok {
		return
	}
	id := run.ID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	if !model.IsTerminal(run.Status) {
		run, err = s.streamProgress(r, conn, id)
		if err != nil {
			s.logger.Debug("run socket closed", "run_id", id, "error", err)
			return
		}
	}

	if err := writeWS(conn, wsMessage{Type: wsTypeDone, Run: run}); err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

// streamProgress forwards log lines until the run's stream closes and then
// returns the run as stored.
func (s *Server) streamProgress(r *http.Request, conn *websocket.Conn, id string) (*model.Run, error) {
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	// Read loop to detect disconnect.
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
		case line, ok := <-ch:
			if !ok {
				return s.getRun(r, id)
			}
			if err := writeWS(conn, wsMessage{Type: wsTypeProgress, Line: line}); err != nil {
				return nil, err
			}
		case <-gone:
			return nil, errors.New("client disconnected")
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
