package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
)

type protectedHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User)

// port example: ":8080"
func (s *Server) SetupHTTP(port string) error {
	router := httprouter.New()

	// protected wraps a handler that needs an authenticated user with at
	// least the given permission.
	protected := func(method, route string, perm configdb.UserPermissions, handle protectedHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			user := s.configDB.GetUser(r)
			if user == nil {
				http.Error(w, "Not authorized", http.StatusUnauthorized)
				return
			}
			if !user.HasPermission(perm) {
				www.PanicForbiddenf("Insufficient permissions")
			}
			handle(w, r, params, user)
		})
	}

	// ratelimited is for unauthenticated endpoints that accept credentials
	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request), requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	public := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	ratelimited("POST", "/api/auth/login", s.configDB.Login, 5, time.Minute)
	public("GET", "/api/auth/hasAdmin", s.httpAuthHasAdmin)
	public("POST", "/api/auth/createUser", s.httpAuthCreateUser)
	protected("GET", "/api/auth/whoami", configdb.UserPermissionViewer, s.httpAuthWhoAmi)
	protected("POST", "/api/auth/logout", configdb.UserPermissionViewer, s.httpAuthLogout)

	protected("GET", "/api/events/live", configdb.UserPermissionViewer, s.httpEventsLive)
	protected("GET", "/api/events/past", configdb.UserPermissionViewer, s.httpEventsPast)
	protected("POST", "/api/events/approve/:id", configdb.UserPermissionOperator, s.httpEventsApprove)
	protected("POST", "/api/events/reject/:id", configdb.UserPermissionOperator, s.httpEventsReject)
	protected("POST", "/api/events/simulate", configdb.UserPermissionOperator, s.httpEventsSimulate)
	protected("POST", "/api/events/ingest", configdb.UserPermissionOperator, s.httpEventsIngest)

	protected("GET", "/api/notifications/recent", configdb.UserPermissionViewer, s.httpNotificationsRecent)
	protected("GET", "/api/ws/notifications", configdb.UserPermissionViewer, s.httpNotificationsWebSocket)

	protected("GET", "/api/camera/list", configdb.UserPermissionViewer, s.httpCameraList)
	protected("POST", "/api/camera/add", configdb.UserPermissionAdmin, s.httpCameraAdd)
	protected("POST", "/api/camera/update/:id", configdb.UserPermissionAdmin, s.httpCameraUpdate)
	protected("POST", "/api/camera/delete/:id", configdb.UserPermissionAdmin, s.httpCameraDelete)
	protected("POST", "/api/camera/start/:id", configdb.UserPermissionOperator, s.httpCameraStart)
	protected("POST", "/api/camera/stop/:id", configdb.UserPermissionOperator, s.httpCameraStop)
	protected("GET", "/api/camera/latestFrame/:id", configdb.UserPermissionViewer, s.httpCameraLatestFrame)
	protected("GET", "/api/ws/camera/:id", configdb.UserPermissionViewer, s.httpCameraWebSocket)

	protected("GET", "/api/system/config", configdb.UserPermissionAdmin, s.httpSystemGetConfig)
	protected("POST", "/api/system/config", configdb.UserPermissionAdmin, s.httpSystemSetConfig)

	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: router,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
