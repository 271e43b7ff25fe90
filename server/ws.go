package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// sessionReadLimit bounds a single incoming session message.
const sessionReadLimit = 32768

// session runs commands sent over a WebSocket one at a time, answering each with its result.
// A command still running when the connection drops is canceled.
func (s *Server) session(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(sessionReadLimit)
	s.log.Debug("accepted session")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg sessionMessage
		err := wsjson.Read(ctx, conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			s.log.Debug("got normal closure from client, ending session")
			return
		}
		if err != nil {
			s.log.Debugf("session reader got error: %s", err)
			conn.Close(websocket.StatusInternalError, "reading message")
			return
		}

		resp := sessionResult{Time: time.Now().UTC()}
		if strings.TrimSpace(msg.Command) == "" {
			resp.Err = "message contained no command"
		} else {
			res := newExecuteResponse(msg.Command, s.relay.Execute(ctx, msg.Command))
			resp.Result = &res
		}

		err = wsjson.Write(ctx, conn, &resp)
		if err != nil {
			s.log.Debugf("session writer got error: %s", err)
			conn.Close(websocket.StatusInternalError, "writing result")
			return
		}
	}
}
