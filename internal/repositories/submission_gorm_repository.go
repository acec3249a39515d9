package repositories

import (
	"context"
	"fmt"

	"beyondink/internal/models"

	"gorm.io/gorm"
)

// GORMSubmissionRepository is a GORM implementation of SubmissionRepository.
type GORMSubmissionRepository struct {
	db *gorm.DB
}

// NewGORMSubmissionRepository creates a new instance of GORMSubmissionRepository.
func NewGORMSubmissionRepository(db *gorm.DB) *GORMSubmissionRepository {
	return &GORMSubmissionRepository{
		db: db,
	}
}

// Insert writes record into the named table. The model's own TableName is
// ignored so deployments can keep their existing collection names.
func (r *GORMSubmissionRepository) Insert(ctx context.Context, collection string, record any) error {
	if collection == "" {
		return fmt.Errorf("failed to insert record: %w", ErrUnknownCollection)
	}
	if err := r.db.WithContext(ctx).Table(collection).Create(record).Error; err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// Collections maps each form kind to the table its records go to.
type Collections struct {
	Contact     string
	Booking     string
	MailingList string
}

// Migrate creates or updates the three submission tables under their
// configured names.
func Migrate(db *gorm.DB, c Collections) error {
	tables := []struct {
		name  string
		model any
	}{
		{c.Contact, &models.ContactMessage{}},
		{c.Booking, &models.BookingRequest{}},
		{c.MailingList, &models.MailingListSubscriber{}},
	}
	for _, t := range tables {
		if t.name == "" {
			continue
		}
		if err := db.Table(t.name).AutoMigrate(t.model); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", t.name, err)
		}
	}
	return nil
}
