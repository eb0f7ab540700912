package configdb

import (
	"os"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/safehalls/safehalls/pkg/pwdhash"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createTestDB(t *testing.T) *ConfigDB {
	os.Remove("test-configdb.sqlite")
	db, err := NewConfigDB(logs.NewTestingLog(t), "test-configdb.sqlite")
	require.NoError(t, err)
	return db
}

func TestGenerateNewID(t *testing.T) {
	db := createTestDB(t)
	err := db.DB.Transaction(func(tx *gorm.DB) error {
		id, err := db.GenerateNewID(tx, "camera")
		require.NoError(t, err)
		require.Equal(t, int64(1), id)
		id, err = db.GenerateNewID(tx, "camera")
		require.NoError(t, err)
		require.Equal(t, int64(2), id)
		id, err = db.GenerateNewID(tx, "other")
		require.NoError(t, err)
		require.Equal(t, int64(1), id)
		return nil
	})
	require.NoError(t, err)
}

func TestCameraCRUD(t *testing.T) {
	db := createTestDB(t)

	cam := &Camera{
		Name:    "Main entrance",
		Host:    "192.168.1.33:8001",
		Enabled: true,
	}
	require.NoError(t, db.AddCamera(cam))
	require.NotZero(t, cam.ID)
	require.Equal(t, "cam-01", cam.LongLivedName)
	require.Equal(t, "ws://192.168.1.33:8001/ws/video-stream", cam.StreamURL())

	cam2 := &Camera{Name: "Gym", Host: "192.168.1.34:8001", StreamPath: "/ws/gym"}
	require.NoError(t, db.AddCamera(cam2))
	require.Equal(t, "cam-02", cam2.LongLivedName)
	require.Equal(t, "ws://192.168.1.34:8001/ws/gym", cam2.StreamURL())

	// Long lived names stick across renames
	cam.Name = "Front door"
	cam.LongLivedName = "cam-99"
	require.NoError(t, db.UpdateCamera(cam))
	fetched, err := db.GetCameraFromID(cam.ID)
	require.NoError(t, err)
	require.Equal(t, "Front door", fetched.Name)
	require.Equal(t, "cam-01", fetched.LongLivedName)

	all, err := db.ListCameras()
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, db.DeleteCamera(cam2.ID))
	gone, err := db.GetCameraFromID(cam2.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	// Deleted names are never reused
	cam3 := &Camera{Name: "Gym again", Host: "192.168.1.34:8001"}
	require.NoError(t, db.AddCamera(cam3))
	require.Equal(t, "cam-03", cam3.LongLivedName)
}

func TestUsersAndLogin(t *testing.T) {
	db := createTestDB(t)

	admin := &User{Username: "Principal", Permissions: string(UserPermissionAdmin)}
	require.NoError(t, db.CreateUser(admin, "hunter2"))

	viewer := &User{Username: "frontdesk", Permissions: string(UserPermissionViewer)}
	require.NoError(t, db.CreateUser(viewer, "letmein"))

	bad := &User{Username: "weirdo", Permissions: "x"}
	require.Error(t, db.CreateUser(bad, "pw"))

	// Username lookup is case insensitive
	u, err := db.GetUserByUsername("principal")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, admin.ID, u.ID)

	u, err = db.VerifyLogin("PRINCIPAL", "hunter2")
	require.NoError(t, err)
	require.Equal(t, admin.ID, u.ID)

	_, err = db.VerifyLogin("principal", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = db.VerifyLogin("nobody", "hunter2")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, db.SetPassword(viewer.ID, "newpass"))
	_, err = db.VerifyLogin("frontdesk", "letmein")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	u, err = db.VerifyLogin("frontdesk", "newpass")
	require.NoError(t, err)
	require.True(t, pwdhash.VerifyHash("newpass", u.Password))

	n, err := db.NumAdminUsers()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, admin.HasPermission(UserPermissionViewer)) // admin implies all
	require.False(t, viewer.HasPermission(UserPermissionAdmin))
}

func TestSystemConfig(t *testing.T) {
	db := createTestDB(t)

	// Empty DB yields a zero config
	cfg, err := db.GetConfig()
	require.NoError(t, err)
	require.Equal(t, 0, cfg.EventHistoryLimit)

	cfg.EventHistoryLimit = 200
	cfg.Escalation = EscalationJSON{
		StudentNotifyURL: "http://localhost:9000/v1/notify/students",
		PoliceNotifyURL:  "http://localhost:9000/v1/notify/police",
		APIKey:           "secret",
		StageDelayMS:     3000,
	}
	require.NoError(t, db.SetConfig(cfg))

	loaded, err := db.GetConfig()
	require.NoError(t, err)
	require.Equal(t, 200, loaded.EventHistoryLimit)
	require.Equal(t, "secret", loaded.Escalation.APIKey)

	loaded.Escalation.PoliceNotifyURL = "not a url"
	require.Error(t, db.SetConfig(loaded))
	loaded.Escalation.PoliceNotifyURL = ""
	loaded.EventHistoryLimit = -1
	require.Error(t, db.SetConfig(loaded))
}
