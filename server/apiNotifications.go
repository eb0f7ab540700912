package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
)

func (s *Server) httpNotificationsRecent(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	www.SendJSON(w, s.notifier.Recent())
}

// One JSON text message per notification. We never read from the client, so
// the read loop exists only to detect disconnect.
func (s *Server) httpNotificationsWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	www.Check(err)
	defer conn.Close()

	watcher := s.notifier.AddWatcher()
	defer s.notifier.RemoveWatcher(watcher)

	closed := make(chan bool)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	for {
		select {
		case <-s.ShutdownStarted:
			return
		case <-closed:
			return
		case n := <-watcher:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}
	}
}
