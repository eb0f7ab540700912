package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/server/configdb"
	"github.com/safehalls/safehalls/server/eventdb"
	"github.com/safehalls/safehalls/server/eventsync"
	"github.com/safehalls/safehalls/server/notifications"
	"github.com/safehalls/safehalls/server/stream"
)

const DefaultEventHistoryLimit = 100

type ServerOptions struct {
	ConfigDBFilename string
	EventDBFilename  string
	PostgresDSN      string // Optional. When set, we listen for event changes from a shared postgres event store.
}

type Server struct {
	Log       logs.Log
	configDB  *configdb.ConfigDB
	eventDB   *eventdb.EventDB
	eventSync *eventsync.EventSyncStore
	notifier  *notifications.Notifier
	escalator *notifications.Escalator
	listener  *eventdb.ChangeListener

	httpServer *http.Server

	camerasLock sync.Mutex
	cameras     map[int64]*stream.StreamClient // Running stream clients, keyed on camera id

	// ShutdownStarted is closed when Shutdown begins, so that long running
	// requests (eg websockets) know to wind down.
	ShutdownStarted chan bool
	shutdownOnce    sync.Once
}

func NewServer(logger logs.Log, options ServerOptions) (*Server, error) {
	configDB, err := configdb.NewConfigDB(logger, options.ConfigDBFilename)
	if err != nil {
		return nil, err
	}
	eventDB, err := eventdb.NewEventDB(logger, options.EventDBFilename)
	if err != nil {
		return nil, err
	}
	cfg, err := configDB.GetConfig()
	if err != nil {
		return nil, err
	}

	notifier := notifications.NewNotifier(logger)
	var escalator *notifications.Escalator
	if cfg.Escalation.StudentNotifyURL != "" || cfg.Escalation.PoliceNotifyURL != "" {
		escalator = notifications.NewEscalator(logger, notifier, notifications.EscalatorConfig{
			StudentNotifyURL: cfg.Escalation.StudentNotifyURL,
			PoliceNotifyURL:  cfg.Escalation.PoliceNotifyURL,
			APIKey:           cfg.Escalation.APIKey,
			StageDelay:       time.Duration(cfg.Escalation.StageDelayMS) * time.Millisecond,
		})
	}

	s := &Server{
		Log:             logger,
		configDB:        configDB,
		eventDB:         eventDB,
		notifier:        notifier,
		escalator:       escalator,
		cameras:         map[int64]*stream.StreamClient{},
		ShutdownStarted: make(chan bool),
	}

	limit := cfg.EventHistoryLimit
	if limit <= 0 {
		limit = DefaultEventHistoryLimit
	}
	s.eventSync = eventsync.NewEventSyncStore(logger, eventDB, notifier, escalator)
	if err := s.eventSync.LoadInitial(limit); err != nil {
		return nil, err
	}
	s.eventSync.Subscribe()

	if options.PostgresDSN != "" {
		listener, err := eventDB.StartChangeListener(context.Background(), options.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("Failed to start change listener: %w", err)
		}
		s.listener = listener
	}

	if err := s.startEnabledCameras(); err != nil {
		logger.Errorf("Error starting cameras: %v", err)
	}

	return s, nil
}

func (s *Server) startEnabledCameras() error {
	cameras, err := s.configDB.ListCameras()
	if err != nil {
		return err
	}
	var firstErr error
	for _, cam := range cameras {
		if !cam.Enabled {
			continue
		}
		if err := s.StartCamera(cam); err != nil {
			s.Log.Errorf("Error starting camera %v: %v", cam.LongLivedName, err)
			firstErr = err
		}
	}
	return firstErr
}

// StartCamera starts streaming frames from a camera's detection server.
// Starting a camera that is already running is a no-op.
func (s *Server) StartCamera(cam *configdb.Camera) error {
	s.camerasLock.Lock()
	defer s.camerasLock.Unlock()
	if _, running := s.cameras[cam.ID]; running {
		return nil
	}
	client := stream.NewStreamClient(s.Log, cam.StreamURL(), s.notifier)
	client.Start()
	s.cameras[cam.ID] = client
	s.Log.Infof("Camera %v (%v) started", cam.LongLivedName, cam.StreamURL())
	return nil
}

// StopCamera stops a camera's stream client. Stopping a camera that is not
// running is a no-op.
func (s *Server) StopCamera(cameraID int64) {
	s.camerasLock.Lock()
	client := s.cameras[cameraID]
	delete(s.cameras, cameraID)
	s.camerasLock.Unlock()
	if client != nil {
		client.Stop()
	}
}

// CameraClient returns the running stream client for a camera, or nil.
func (s *Server) CameraClient(cameraID int64) *stream.StreamClient {
	s.camerasLock.Lock()
	defer s.camerasLock.Unlock()
	return s.cameras[cameraID]
}

func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown starting")
		close(s.ShutdownStarted)

		s.camerasLock.Lock()
		clients := []*stream.StreamClient{}
		for _, client := range s.cameras {
			clients = append(clients, client)
		}
		s.cameras = map[int64]*stream.StreamClient{}
		s.camerasLock.Unlock()
		for _, client := range clients {
			client.Stop()
		}

		s.eventSync.Close()
		if s.escalator != nil {
			s.escalator.Close()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.httpServer.Shutdown(ctx)
		}
		s.Log.Infof("Shutdown complete")
	})
}
