package models

// FormKind identifies one of the storefront's lead-capture forms.
type FormKind string

const (
	FormContact     FormKind = "contact"
	FormBooking     FormKind = "booking"
	FormMailingList FormKind = "mailing_list"
)

// Valid reports whether k names a known form.
func (k FormKind) Valid() bool {
	switch k {
	case FormContact, FormBooking, FormMailingList:
		return true
	}
	return false
}

// Draft is an in-progress, unvalidated form record as posted by the storefront.
type Draft interface {
	FormKind() FormKind
}
