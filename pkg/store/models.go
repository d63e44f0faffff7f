package store

import (
	"time"

	"gorm.io/datatypes"
)

// EntryModel is the GORM model behind a catalog entry. ISBN is a pointer so
// that entries without one stay outside the unique index (Postgres treats
// NULLs as distinct).
type EntryModel struct {
	ID           string  `gorm:"primaryKey"`
	Title        string  `gorm:"not null"`
	Authors      string  `gorm:"not null"`
	ISBN         *string `gorm:"uniqueIndex"`
	ThumbnailURL string
	Publisher    string
	Published    string
	Description  string `gorm:"type:text"`
	Subjects     datatypes.JSON
	Notes        string    `gorm:"type:text"`
	Favorite     bool      `gorm:"not null;default:false"`
	AddedAt      time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time
}
