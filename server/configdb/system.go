package configdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/gorm"
)

// ConfigJSON is the system configuration, stored as a single JSON document.
// SYNC-SYSTEM-CONFIG-JSON
type ConfigJSON struct {
	EventHistoryLimit int            `json:"eventHistoryLimit"` // Max events fetched into the dashboard on startup. 0 = default.
	Escalation        EscalationJSON `json:"escalation"`
}

// EscalationJSON configures the notification ladder for confirmed threats.
type EscalationJSON struct {
	StudentNotifyURL string `json:"studentNotifyURL"`
	PoliceNotifyURL  string `json:"policeNotifyURL"`
	APIKey           string `json:"apiKey"`
	StageDelayMS     int    `json:"stageDelayMS"` // Delay between the principal and police stages. 0 = default.
}

const systemConfigKey = "main"

type systemConfig struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (systemConfig) TableName() string {
	return "system_config"
}

func (c *ConfigDB) GetConfig() (*ConfigJSON, error) {
	row := systemConfig{}
	err := c.DB.Where("key = ?", systemConfigKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ConfigJSON{}, nil
	} else if err != nil {
		return nil, err
	}
	cfg := ConfigJSON{}
	if err := json.Unmarshal([]byte(row.Value), &cfg); err != nil {
		return nil, fmt.Errorf("Failed to parse system config: %w", err)
	}
	return &cfg, nil
}

func (c *ConfigDB) SetConfig(cfg *ConfigJSON) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", systemConfigKey).Delete(&systemConfig{}).Error; err != nil {
			return err
		}
		return tx.Create(&systemConfig{Key: systemConfigKey, Value: string(raw)}).Error
	})
}

func ValidateConfig(cfg *ConfigJSON) error {
	if cfg.EventHistoryLimit < 0 {
		return fmt.Errorf("eventHistoryLimit may not be negative")
	}
	if cfg.Escalation.StageDelayMS < 0 {
		return fmt.Errorf("stageDelayMS may not be negative")
	}
	for _, u := range []string{cfg.Escalation.StudentNotifyURL, cfg.Escalation.PoliceNotifyURL} {
		if u == "" {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("Invalid notify URL '%v'", u)
		}
	}
	return nil
}
