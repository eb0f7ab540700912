package configdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"gorm.io/gorm"
)

func (c *ConfigDB) ListCameras() ([]*Camera, error) {
	cameras := []*Camera{}
	if err := c.DB.Find(&cameras).Error; err != nil {
		return nil, err
	}
	return cameras, nil
}

func (c *ConfigDB) GetCameraFromID(id int64) (*Camera, error) {
	cam := Camera{}
	if err := c.DB.First(&cam, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cam, nil
}

// AddCamera inserts a new camera, assigning it a long lived name (eg cam-3).
// Long lived names are never reused, even after a camera is deleted.
func (c *ConfigDB) AddCamera(cam *Camera) error {
	if cam.Host == "" {
		return fmt.Errorf("Camera host may not be empty")
	}
	now := dbh.MakeIntTime(time.Now())
	cam.CreatedAt = now
	cam.UpdatedAt = now
	return c.DB.Transaction(func(tx *gorm.DB) error {
		id, err := c.GenerateNewID(tx, "camera")
		if err != nil {
			return err
		}
		cam.LongLivedName = fmt.Sprintf("cam-%02d", id)
		return tx.Create(cam).Error
	})
}

func (c *ConfigDB) UpdateCamera(cam *Camera) error {
	existing, err := c.GetCameraFromID(cam.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("Camera %v not found", cam.ID)
	}
	// The long lived name is immutable
	cam.LongLivedName = existing.LongLivedName
	cam.CreatedAt = existing.CreatedAt
	cam.UpdatedAt = dbh.MakeIntTime(time.Now())
	return c.DB.Save(cam).Error
}

func (c *ConfigDB) DeleteCamera(id int64) error {
	return c.DB.Delete(&Camera{}, id).Error
}
