package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
)

func (s *Server) httpSystemGetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cfg, err := s.configDB.GetConfig()
	www.Check(err)
	www.SendJSON(w, cfg)
}

// Escalation settings are read at startup, so changing them needs a restart.
func (s *Server) httpSystemSetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cfg := configdb.ConfigJSON{}
	www.ReadJSON(w, r, &cfg, 1024*1024)
	www.Check(s.configDB.SetConfig(&cfg))
	s.Log.Infof("User %v updated system config", user.Username)
	www.SendOK(w)
}
