package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// Budget ranges offered by the booking form.
var BudgetOptions = []string{"50-150", "150-300", "300-500", "500+"}

// KnownBudget reports whether b is empty or one of BudgetOptions. Other values
// are still stored as given.
func KnownBudget(b string) bool {
	return b == "" || slices.Contains(BudgetOptions, b)
}

// BookingDraft is the body of a booking-request submission.
type BookingDraft struct {
	FullName           string   `json:"fullName" validate:"notblank"`
	Email              string   `json:"email" validate:"notblank,looseemail"`
	Phone              string   `json:"phone"`
	TattooIdea         string   `json:"tattooIdea" validate:"notblank,mintrim=20"`
	Placement          string   `json:"placement" validate:"notblank"`
	Budget             string   `json:"budget"`
	PreferredDate      string   `json:"preferredDate"`
	ReferenceImageURLs []string `json:"referenceImageUrls"`
	ConsentMarketing   bool     `json:"consentMarketing" validate:"eq=true"`
}

func (BookingDraft) FormKind() FormKind { return FormBooking }

// BookingRequest is a stored booking enquiry. BookingReference is generated
// before the insert and is distinct from the database-assigned ID.
type BookingRequest struct {
	ID                 uint                        `json:"id" gorm:"primaryKey"`
	BookingReference   string                      `json:"booking_reference" gorm:"type:varchar(32);not null;index"`
	FullName           string                      `json:"full_name" gorm:"type:varchar(200);not null"`
	Email              string                      `json:"email" gorm:"type:varchar(255);not null;index"`
	Phone              string                      `json:"phone,omitempty" gorm:"type:varchar(32)"`
	TattooIdea         string                      `json:"tattoo_idea" gorm:"type:text;not null"`
	Placement          string                      `json:"placement" gorm:"type:varchar(200);not null"`
	Budget             string                      `json:"budget,omitempty" gorm:"type:varchar(32)"`
	PreferredDate      string                      `json:"preferred_date,omitempty" gorm:"type:varchar(32)"`
	ReferenceImageURLs datatypes.JSONSlice[string] `json:"reference_image_urls"`
	ConsentMarketing   bool                        `json:"consent_marketing"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

func (BookingRequest) TableName() string { return "booking_requests" }
