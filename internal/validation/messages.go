package validation

import "beyondink/internal/models"

// TokenMissingMessage is shown when the challenge was not completed.
const TokenMissingMessage = "Please complete the reCAPTCHA"

type ruleKey struct {
	field string
	tag   string
}

var messages = map[models.FormKind]map[ruleKey]string{
	models.FormContact: {
		{"name", "notblank"}:    "Name is required",
		{"email", "notblank"}:   "Email is required",
		{"email", "looseemail"}: "Invalid email address",
		{"message", "notblank"}: "Message is required",
		{"message", "mintrim"}:  "Please provide at least 10 characters",
	},
	models.FormBooking: {
		{"fullName", "notblank"}:   "Full name is required",
		{"email", "notblank"}:      "Email is required",
		{"email", "looseemail"}:    "Invalid email address",
		{"tattooIdea", "notblank"}: "Please describe your tattoo idea",
		{"tattooIdea", "mintrim"}:  "Please provide at least 20 characters",
		{"placement", "notblank"}:  "Placement is required",
		{"consentMarketing", "eq"}: "You must consent to be contacted",
	},
	models.FormMailingList: {
		{"email", "notblank"}:   "Please enter a valid email address",
		{"email", "looseemail"}: "Please enter a valid email address",
		{"consent", "eq"}:       "Please consent to receive email updates",
	},
}

func message(kind models.FormKind, field, tag string) string {
	if msg, ok := messages[kind][ruleKey{field, tag}]; ok {
		return msg
	}
	return "Invalid value"
}
