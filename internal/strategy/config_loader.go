package strategy

import (
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents one strategy configuration entry in YAML, matching
// the strategies table's required columns.
type Config struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	WebhookToken string `yaml:"webhook_token"`
	Exchange     string `yaml:"exchange"`
	IsActive     bool   `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Strategies, nil
}

// SyncConfigToDB upserts strategies from config into the strategies
// table so the webhook Ingress has something to serve at startup.
func SyncConfigToDB(db *sql.DB, configs []Config) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO strategies (id, name, webhook_token, exchange, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			webhook_token = excluded.webhook_token,
			exchange = excluded.exchange,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cfg := range configs {
		if cfg.WebhookToken == "" {
			return fmt.Errorf("strategy %s: webhook_token is required", cfg.Name)
		}
		if cfg.Exchange == "" {
			return fmt.Errorf("strategy %s: exchange is required", cfg.Name)
		}

		if _, err := stmt.Exec(cfg.ID, cfg.Name, cfg.WebhookToken, cfg.Exchange, cfg.IsActive); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", cfg.Name, err)
		}
	}

	return tx.Commit()
}
