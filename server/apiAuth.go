package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
)

func (s *Server) httpAuthWhoAmi(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	www.SendJSON(w, &user)
}

func (s *Server) httpAuthLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	s.configDB.Logout(w, r)
}

func (s *Server) httpAuthHasAdmin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	n, err := s.configDB.NumAdminUsers()
	www.Check(err)
	www.SendJSONBool(w, n != 0)
}

// SYNC-CREATE-USER-JSON
type createUserJSON struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
}

// Creating the first user needs no authorization, and that user is always an
// admin. Thereafter only admins may create users.
func (s *Server) httpAuthCreateUser(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	body := createUserJSON{}
	www.ReadJSON(w, r, &body, 1024*1024)
	if body.Username == "" || body.Password == "" {
		www.PanicBadRequestf("username and password are required")
	}

	nAdmins, err := s.configDB.NumAdminUsers()
	www.Check(err)
	isInitialUser := nAdmins == 0
	if isInitialUser {
		body.Permissions = string(configdb.UserPermissionAdmin)
	} else {
		caller := s.configDB.GetUser(r)
		if caller == nil {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}
		if !caller.HasPermission(configdb.UserPermissionAdmin) {
			www.PanicForbiddenf("Only admins may create users")
		}
		if body.Permissions == "" {
			body.Permissions = string(configdb.UserPermissionViewer)
		}
	}

	user := configdb.User{
		Username:    body.Username,
		Name:        body.Name,
		Permissions: body.Permissions,
	}
	www.Check(s.configDB.CreateUser(&user, body.Password))
	s.Log.Infof("Created user %v (permissions '%v')", user.Username, user.Permissions)

	if isInitialUser {
		// Log the initial admin in immediately, so setup can continue without
		// a second round trip.
		s.configDB.LoginInternal(w, user.ID, time.Time{}, configdb.LoginModeCookie)
		return
	}
	www.SendID(w, user.ID)
}
