package repositories_test

import (
	"context"
	"testing"
	"time"

	"beyondink/internal/models"
	"beyondink/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repositories.Migrate(db, repositories.Collections{
		Contact:     "contact_messages",
		Booking:     "bookings",
		MailingList: "mailing_list",
	}))
	return db
}

func TestGORMSubmissionRepository_InsertUsesConfiguredTable(t *testing.T) {
	db := openTestDB(t)
	repo := repositories.NewGORMSubmissionRepository(db)

	booking := &models.BookingRequest{
		BookingReference:   "BI-20250101-AB12",
		FullName:           "Jo Bloggs",
		Email:              "jo@example.com",
		TattooIdea:         "A fine-line swallow with a banner",
		Placement:          "Forearm",
		ReferenceImageURLs: []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.png"},
		ConsentMarketing:   true,
	}
	require.NoError(t, repo.Insert(context.Background(), "bookings", booking))
	assert.NotZero(t, booking.ID)

	var stored models.BookingRequest
	require.NoError(t, db.Table("bookings").First(&stored, booking.ID).Error)
	assert.Equal(t, "BI-20250101-AB12", stored.BookingReference)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.png"}, []string(stored.ReferenceImageURLs))

	var count int64
	require.NoError(t, db.Table("bookings").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGORMSubmissionRepository_DuplicateSubscribersAreBothInserted(t *testing.T) {
	db := openTestDB(t)
	repo := repositories.NewGORMSubmissionRepository(db)

	for i := 0; i < 2; i++ {
		sub := &models.MailingListSubscriber{
			Email:           "fan@example.com",
			GDPRConsent:     true,
			GDPRConsentText: models.ConsentText,
			Source:          "site-form",
		}
		require.NoError(t, repo.Insert(context.Background(), "mailing_list", sub))
	}

	var count int64
	require.NoError(t, db.Table("mailing_list").Where("email = ?", "fan@example.com").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGORMSubmissionRepository_Failures(t *testing.T) {
	db := openTestDB(t)
	repo := repositories.NewGORMSubmissionRepository(db)
	msg := &models.ContactMessage{Name: "A", Email: "a@b.c", Message: "Hello there!"}

	err := repo.Insert(context.Background(), "", msg)
	assert.ErrorIs(t, err, repositories.ErrUnknownCollection)

	err = repo.Insert(context.Background(), "no_such_table", msg)
	assert.ErrorContains(t, err, "no_such_table")

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	assert.Error(t, repo.Insert(ctx, "contact_messages", msg))
}

func TestMockSubmissionRepository(t *testing.T) {
	repo := repositories.NewMockSubmissionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "contact_messages", &models.ContactMessage{Name: "A"}))
	require.NoError(t, repo.Insert(ctx, "contact_messages", &models.ContactMessage{Name: "B"}))
	assert.Len(t, repo.Records("contact_messages"), 2)
	assert.Empty(t, repo.Records("bookings"))

	assert.ErrorIs(t, repo.Insert(ctx, "", struct{}{}), repositories.ErrUnknownCollection)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, repo.Insert(cancelled, "bookings", struct{}{}), context.Canceled)
}
