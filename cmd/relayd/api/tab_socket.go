package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/quizparty/relay/lib/logger"
)

const tabWriteTimeout = 5 * time.Second

// HandleTabSocket accepts a tab client's websocket and bridges it to the
// relay's local channel: inbound frames become submitted actions, and the
// relay pushes snapshots and forwarded server messages back. Attaching a new
// tab silently supersedes the previous one.
func (s *ApiService) HandleTabSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("failed to accept tab websocket", "err", err)
		return
	}

	id := s.relay.Attach(&tabConn{conn: conn})
	log.Info("tab attached", "attachment_id", id)
	defer func() {
		s.relay.Detach(id)
		conn.Close(websocket.StatusNormalClosure, "")
		log.Info("tab detached", "attachment_id", id)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		s.relay.Submit(id, data)
	}
}

// tabConn adapts a coder/websocket connection to session.Pusher. Push is only
// called from the relay's event loop.
type tabConn struct {
	conn *websocket.Conn
}

func (t *tabConn) Push(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), tabWriteTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, data)
}
