package models

import "time"

// ContactDraft is the body of a contact-form submission.
type ContactDraft struct {
	Name    string `json:"name" validate:"notblank"`
	Email   string `json:"email" validate:"notblank,looseemail"`
	Message string `json:"message" validate:"notblank,mintrim=10"`
}

func (ContactDraft) FormKind() FormKind { return FormContact }

// ContactMessage is a stored contact-form message. It is never updated.
type ContactMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(200);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null;index"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ContactMessage) TableName() string { return "contact_messages" }
