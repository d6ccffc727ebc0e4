package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/optimo/bridgebroker/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// BaseModel provides the shared primary key and timestamp columns.
type BaseModel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// BeforeCreate assigns a random UUID when none was set explicitly.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Connect opens a GORM connection to Postgres using the configured DSN.
func Connect(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
