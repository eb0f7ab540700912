package server

import (
	"io"
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
	"github.com/safehalls/safehalls/server/eventsync"
)

func (s *Server) httpEventsLive(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	www.SendJSON(w, s.eventSync.Live())
}

func (s *Server) httpEventsPast(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	www.SendJSON(w, s.eventSync.Past())
}

func (s *Server) httpEventsApprove(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	id := params.ByName("id")
	s.Log.Infof("User %v approved event %v", user.Username, id)
	www.Check(s.eventSync.Approve(id))
	www.SendOK(w)
}

func (s *Server) httpEventsReject(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	id := params.ByName("id")
	s.Log.Infof("User %v rejected event %v", user.Username, id)
	www.Check(s.eventSync.Reject(id))
	www.SendOK(w)
}

// Inject a fake event, for demos and for exercising the dashboard.
// mode=model draws scores from the per-severity bands of the detection model.
func (s *Server) httpEventsSimulate(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	mode := www.QueryValue(r, "mode")
	if mode == "model" {
		www.SendJSON(w, s.eventSync.SimulateAIModelEvent())
	} else {
		www.SendJSON(w, s.eventSync.SimulateEvent())
	}
}

// Ingest accepts a raw event row from an external detection server, in the
// same shape as the change feed rows. The row lands in the event store, and
// flows to the dashboard through the regular change feed.
func (s *Server) httpEventsIngest(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	www.Check(err)
	row, err := eventsync.ParseRawRow(body)
	if err != nil {
		www.PanicBadRequestf("Invalid event row: %v", err)
	}
	www.Check(s.eventDB.AddEvent(row))
	www.SendID(w, row.ID)
}
