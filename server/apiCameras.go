package server

import (
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/safehalls/safehalls/server/configdb"
	"github.com/safehalls/safehalls/server/streamer"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens via session cookie before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) getCameraFromParamsOrPanic(params httprouter.Params) *configdb.Camera {
	id := www.ParseID(params.ByName("id"))
	cam, err := s.configDB.GetCameraFromID(id)
	www.Check(err)
	if cam == nil {
		www.PanicBadRequestf("Camera %v not found", id)
	}
	return cam
}

// SYNC-CAMERA-INFO-JSON
type cameraInfoJSON struct {
	*configdb.Camera
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

func (s *Server) cameraInfo(cam *configdb.Camera) *cameraInfoJSON {
	info := &cameraInfoJSON{Camera: cam}
	if client := s.CameraClient(cam.ID); client != nil {
		info.Running = true
		info.Connected = client.Connected()
		info.State = string(client.State())
	}
	return info
}

func (s *Server) httpCameraList(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cameras, err := s.configDB.ListCameras()
	www.Check(err)
	infos := []*cameraInfoJSON{}
	for _, cam := range cameras {
		infos = append(infos, s.cameraInfo(cam))
	}
	www.SendJSON(w, infos)
}

func (s *Server) httpCameraAdd(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := configdb.Camera{}
	www.ReadJSON(w, r, &cam, 1024*1024)
	www.Check(s.configDB.AddCamera(&cam))
	if cam.Enabled {
		www.Check(s.StartCamera(&cam))
	}
	www.SendID(w, cam.ID)
}

func (s *Server) httpCameraUpdate(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	existing := s.getCameraFromParamsOrPanic(params)
	cam := configdb.Camera{}
	www.ReadJSON(w, r, &cam, 1024*1024)
	cam.ID = existing.ID
	www.Check(s.configDB.UpdateCamera(&cam))

	// Restart the stream client, in case the host changed
	s.StopCamera(cam.ID)
	if cam.Enabled {
		www.Check(s.StartCamera(&cam))
	}
	www.SendOK(w)
}

func (s *Server) httpCameraDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := s.getCameraFromParamsOrPanic(params)
	s.StopCamera(cam.ID)
	www.Check(s.configDB.DeleteCamera(cam.ID))
	s.Log.Infof("User %v deleted camera %v", user.Username, cam.LongLivedName)
	www.SendOK(w)
}

func (s *Server) httpCameraStart(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := s.getCameraFromParamsOrPanic(params)
	www.Check(s.StartCamera(cam))
	www.SendOK(w)
}

func (s *Server) httpCameraStop(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := s.getCameraFromParamsOrPanic(params)
	s.StopCamera(cam.ID)
	www.SendOK(w)
}

func (s *Server) httpCameraLatestFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := s.getCameraFromParamsOrPanic(params)
	client := s.CameraClient(cam.ID)
	if client == nil {
		www.PanicBadRequestf("Camera %v is not running", cam.LongLivedName)
	}
	frame := client.LatestFrame()
	if frame == nil {
		http.Error(w, "No frame received yet", http.StatusNotFound)
		return
	}
	defer frame.Release()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame.JPEG())
}

func (s *Server) httpCameraWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *configdb.User) {
	cam := s.getCameraFromParamsOrPanic(params)
	client := s.CameraClient(cam.ID)
	if client == nil {
		www.PanicBadRequestf("Camera %v is not running", cam.LongLivedName)
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	www.Check(err)
	streamer.RunFrameWebSocketStreamer(cam.LongLivedName, s.Log, conn, client, s.ShutdownStarted)
}
