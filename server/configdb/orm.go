package configdb

import (
	"net/url"
	"strings"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Camera is one detection server endpoint that we can stream frames from.
// SYNC-RECORD-CAMERA
type Camera struct {
	BaseModel
	LongLivedName string      `json:"longLivedName"`                // Stable identity (eg cam-3), survives renames. Also the camera_id on events.
	Name          string      `json:"name"`                        // Friendly name (eg "Main entrance")
	Host          string      `json:"host"`                        // Hostname such as 192.168.1.33:8001
	StreamPath    string      `json:"streamPath" gorm:"default:null"` // Websocket path on the detection server. Empty means /ws/video-stream.
	Enabled       bool        `json:"enabled"`                     //
	CreatedAt     dbh.IntTime `json:"createdAt"`                   //
	UpdatedAt     dbh.IntTime `json:"updatedAt"`                   //
}

// StreamURL is the websocket address of this camera's frame feed.
func (c *Camera) StreamURL() string {
	path := c.StreamPath
	if path == "" {
		path = "/ws/video-stream"
	}
	u := url.URL{Scheme: "ws", Host: c.Host, Path: path}
	return u.String()
}

// UserPermissions are single characters that are present in the user's Permissions field
type UserPermissions string

const (
	UserPermissionAdmin    UserPermissions = "a"
	UserPermissionOperator UserPermissions = "o"
	UserPermissionViewer   UserPermissions = "v"
)

// SYNC-RECORD-USER
type User struct {
	BaseModel
	Username           string `json:"username"`
	UsernameNormalized string `json:"username_normalized"`
	Permissions        string `json:"permissions"`
	Name               string `json:"name" gorm:"default:null"`
	Password           []byte `json:"-" gorm:"default:null"`
}

type Session struct {
	CreatedAt dbh.IntTime
	Key       []byte
	UserID    int64
	ExpiresAt dbh.IntTime `gorm:"default:null"`
}

func IsValidPermission(p string) bool {
	return p == string(UserPermissionAdmin) || p == string(UserPermissionOperator) || p == string(UserPermissionViewer)
}

func (u *User) HasPermission(p UserPermissions) bool {
	if strings.Contains(u.Permissions, string(UserPermissionAdmin)) {
		return true
	}
	return strings.Contains(u.Permissions, string(p))
}

func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}
