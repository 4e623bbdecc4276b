// Package saves persists named room saves: the {owner, scoreboard} snapshot a
// room can later be reloaded from. Snapshots are zstd-compressed at rest.
package saves

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nrednav/cuid2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quizparty/relay/lib/zstdutil"
)

// ErrNotFound is returned when no save exists under the requested name.
var ErrNotFound = errors.New("save not found")

// Record is one named save row.
type Record struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Owner     string
	Snapshot  []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Meta describes a save without its snapshot payload.
type Meta struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a sqlite-backed save store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the save database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open save database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate save database: %w", err)
	}
	return &Store{db: db}, nil
}

// Put stores saveData (the server's save_data JSON) under name, replacing any
// existing save with that name.
func (s *Store) Put(name string, saveData []byte) error {
	if name == "" {
		return errors.New("save name required")
	}
	var payload struct {
		Owner string `json:"owner"`
	}
	// Owner extraction is best effort; older servers omit the field.
	_ = json.Unmarshal(saveData, &payload)

	compressed, err := zstdutil.Compress(saveData, zstdutil.LevelDefault)
	if err != nil {
		return err
	}

	var existing Record
	err = s.db.Where("name = ?", name).First(&existing).Error
	switch {
	case err == nil:
		existing.Owner = payload.Owner
		existing.Snapshot = compressed
		return s.db.Save(&existing).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(&Record{
			ID:       cuid2.Generate(),
			Name:     name,
			Owner:    payload.Owner,
			Snapshot: compressed,
		}).Error
	default:
		return err
	}
}

// Get returns the save_data JSON stored under name.
func (s *Store) Get(name string) ([]byte, error) {
	var rec Record
	if err := s.db.Where("name = ?", name).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return zstdutil.Decompress(rec.Snapshot)
}

// List returns metadata for every save, most recently updated first.
func (s *Store) List() ([]Meta, error) {
	var recs []Record
	if err := s.db.Order("updated_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	metas := make([]Meta, 0, len(recs))
	for _, rec := range recs {
		metas = append(metas, Meta{Name: rec.Name, Owner: rec.Owner, UpdatedAt: rec.UpdatedAt})
	}
	return metas, nil
}

// Delete removes the save stored under name. Deleting an absent save is an
// error so the caller can report it.
func (s *Store) Delete(name string) error {
	res := s.db.Where("name = ?", name).Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
