package models

import "time"

// ConsentText is the wording the subscriber agreed to.
const ConsentText = "Email me updates about promotions, flash days and events."

// SubscriberDraft is the body of a mailing-list signup.
type SubscriberDraft struct {
	Email         string `json:"email" validate:"notblank,looseemail"`
	FullName      string `json:"fullName"`
	Consent       bool   `json:"consent" validate:"eq=true"`
	Source        string `json:"source"`
	SeasonalPromo string `json:"seasonalPromo"`
}

func (SubscriberDraft) FormKind() FormKind { return FormMailingList }

// MailingListSubscriber is a stored signup. Duplicate emails are left to the
// database's own constraints.
type MailingListSubscriber struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Email           string    `json:"email" gorm:"type:varchar(255);not null;index"`
	FullName        string    `json:"full_name,omitempty" gorm:"type:varchar(200)"`
	GDPRConsent     bool      `json:"gdpr_consent" gorm:"column:gdpr_consent"`
	GDPRConsentText string    `json:"gdpr_consent_text" gorm:"column:gdpr_consent_text;type:text"`
	Source          string    `json:"source" gorm:"type:varchar(64)"`
	SeasonalPromo   string    `json:"seasonal_promo,omitempty" gorm:"type:varchar(64)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (MailingListSubscriber) TableName() string { return "mailing_list_subscribers" }
