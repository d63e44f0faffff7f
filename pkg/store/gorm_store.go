package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shelfscan/pkg/domain"
)

const migrateLockID int64 = 52413524

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so that concurrently starting replicas don't race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&EntryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// InsertEntry creates a new entry. A unique-index violation on ISBN is
// reported as ErrDuplicateISBN.
func (s *GormStore) InsertEntry(e domain.CatalogEntry) error {
	model := entryToModel(e)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateISBN
		}
		return err
	}
	return nil
}

// GetEntry retrieves an entry by id.
func (s *GormStore) GetEntry(id string) (domain.CatalogEntry, bool, error) {
	var model EntryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CatalogEntry{}, false, nil
		}
		return domain.CatalogEntry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// FindByISBN returns at most one entry with the exact ISBN.
func (s *GormStore) FindByISBN(isbn string) (domain.CatalogEntry, bool, error) {
	if isbn == "" {
		return domain.CatalogEntry{}, false, nil
	}
	var model EntryModel
	if err := s.db.Limit(1).First(&model, "isbn = ?", isbn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CatalogEntry{}, false, nil
		}
		return domain.CatalogEntry{}, false, err
	}
	return entryFromModel(model), true, nil
}

// UpdateEntry saves user edits (title, authors, notes, favorite and friends).
// ID and AddedAt are never reassigned.
func (s *GormStore) UpdateEntry(e domain.CatalogEntry) error {
	model := entryToModel(e)
	res := s.db.Model(&EntryModel{}).Where("id = ?", e.ID).Updates(map[string]any{
		"title":         model.Title,
		"authors":       model.Authors,
		"thumbnail_url": model.ThumbnailURL,
		"publisher":     model.Publisher,
		"published":     model.Published,
		"description":   model.Description,
		"subjects":      model.Subjects,
		"notes":         model.Notes,
		"favorite":      model.Favorite,
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes an entry.
func (s *GormStore) DeleteEntry(id string) error {
	return s.db.Delete(&EntryModel{}, "id = ?", id).Error
}

// ListEntries returns all entries, newest first.
func (s *GormStore) ListEntries() ([]domain.CatalogEntry, error) {
	return s.listEntries()
}

// ListFavorites returns favorite entries, newest first.
func (s *GormStore) ListFavorites() ([]domain.CatalogEntry, error) {
	return s.listEntries("favorite = ?", true)
}

// SearchEntries matches title and authors case-insensitively.
func (s *GormStore) SearchEntries(query string) ([]domain.CatalogEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.listEntries()
	}
	pattern := "%" + query + "%"
	return s.listEntries("title ILIKE ? OR authors ILIKE ?", pattern, pattern)
}

func (s *GormStore) listEntries(conds ...any) ([]domain.CatalogEntry, error) {
	var models []EntryModel
	tx := s.db.Order("added_at DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CatalogEntry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// EntryCount returns the number of catalog entries.
func (s *GormStore) EntryCount() (int, error) {
	var count int64
	if err := s.db.Model(&EntryModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func entryToModel(e domain.CatalogEntry) EntryModel {
	var isbn *string
	if strings.TrimSpace(e.ISBN) != "" {
		value := e.ISBN
		isbn = &value
	}
	var subjects []byte
	if len(e.Subjects) > 0 {
		subjects, _ = json.Marshal(e.Subjects)
	}
	return EntryModel{
		ID:           e.ID,
		Title:        e.Title,
		Authors:      e.Authors,
		ISBN:         isbn,
		ThumbnailURL: e.ThumbnailURL,
		Publisher:    e.Publisher,
		Published:    e.Published,
		Description:  e.Description,
		Subjects:     subjects,
		Notes:        e.Notes,
		Favorite:     e.Favorite,
		AddedAt:      e.AddedAt,
	}
}

func entryFromModel(m EntryModel) domain.CatalogEntry {
	isbn := ""
	if m.ISBN != nil {
		isbn = *m.ISBN
	}
	var subjects []string
	if len(m.Subjects) > 0 {
		_ = json.Unmarshal(m.Subjects, &subjects)
	}
	return domain.CatalogEntry{
		ID:           m.ID,
		Title:        m.Title,
		Authors:      m.Authors,
		ISBN:         isbn,
		ThumbnailURL: m.ThumbnailURL,
		Publisher:    m.Publisher,
		Published:    m.Published,
		Description:  m.Description,
		Subjects:     subjects,
		Notes:        m.Notes,
		Favorite:     m.Favorite,
		AddedAt:      m.AddedAt,
	}
}
