package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"beyondink/internal/config"
	"beyondink/internal/models"
	"beyondink/pkg/sanitizer"
)

// Verification strictness per form.
const (
	VerifyPresence = config.VerificationPresence
	VerifyRemote   = config.VerificationRemote
)

const (
	verificationFailedMessage = "reCAPTCHA failed, please retry"
	defaultSubscriberSource   = "site-form"
)

// FormSpec parameterises the one submission pipeline for a particular form.
type FormSpec struct {
	Kind           models.FormKind
	Collection     string
	Verification   string
	EventKind      string
	ResetDelay     time.Duration
	FailureMessage string
}

var failureMessages = map[models.FormKind]string{
	models.FormContact:     "Failed to submit message. Please try again.",
	models.FormBooking:     "Failed to submit booking. Please try again.",
	models.FormMailingList: "Failed to subscribe. Please try again.",
}

// FormSpecs derives the per-form specs from configuration.
func FormSpecs(cfg *config.Config) map[models.FormKind]FormSpec {
	specs := make(map[models.FormKind]FormSpec, len(cfg.Forms))
	for kind, fc := range cfg.Forms {
		specs[kind] = FormSpec{
			Kind:           kind,
			Collection:     fc.Collection,
			Verification:   fc.Verification,
			EventKind:      fc.EventKind,
			ResetDelay:     fc.ResetDelay,
			FailureMessage: failureMessages[kind],
		}
	}
	return specs
}

// needsReference reports whether records of this form carry a human-readable
// reference code.
func (s FormSpec) needsReference() bool {
	return s.Kind == models.FormBooking
}

func (s FormSpec) failureMessage() string {
	if s.FailureMessage != "" {
		return s.FailureMessage
	}
	return "Failed to submit. Please try again."
}

// buildRecord turns a validated draft into the record that is inserted.
func buildRecord(draft models.Draft, reference string) (any, error) {
	switch d := draft.(type) {
	case models.ContactDraft:
		return buildRecord(&d, reference)
	case models.BookingDraft:
		return buildRecord(&d, reference)
	case models.SubscriberDraft:
		return buildRecord(&d, reference)
	}

	switch d := draft.(type) {
	case *models.ContactDraft:
		return &models.ContactMessage{
			Name:    sanitizer.NormalizeName(d.Name),
			Email:   sanitizer.NormalizeEmail(d.Email),
			Message: strings.TrimSpace(d.Message),
		}, nil
	case *models.BookingDraft:
		phone := strings.TrimSpace(d.Phone)
		if normalized := sanitizer.NormalizePhone(phone, sanitizer.DefaultRegions...); normalized != "" {
			phone = normalized
		}
		budget := strings.TrimSpace(d.Budget)
		if !models.KnownBudget(budget) {
			slog.Info("booking with unlisted budget", "budget", budget)
		}
		urls := make([]string, 0, len(d.ReferenceImageURLs))
		for _, u := range d.ReferenceImageURLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return &models.BookingRequest{
			BookingReference:   reference,
			FullName:           sanitizer.NormalizeName(d.FullName),
			Email:              sanitizer.NormalizeEmail(d.Email),
			Phone:              phone,
			TattooIdea:         strings.TrimSpace(d.TattooIdea),
			Placement:          strings.TrimSpace(d.Placement),
			Budget:             budget,
			PreferredDate:      strings.TrimSpace(d.PreferredDate),
			ReferenceImageURLs: urls,
			ConsentMarketing:   d.ConsentMarketing,
		}, nil
	case *models.SubscriberDraft:
		source := strings.TrimSpace(d.Source)
		if source == "" {
			source = defaultSubscriberSource
		}
		return &models.MailingListSubscriber{
			Email:           sanitizer.NormalizeEmail(d.Email),
			FullName:        sanitizer.NormalizeName(d.FullName),
			GDPRConsent:     d.Consent,
			GDPRConsentText: models.ConsentText,
			Source:          source,
			SeasonalPromo:   strings.TrimSpace(d.SeasonalPromo),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported draft type %T", draft)
	}
}
