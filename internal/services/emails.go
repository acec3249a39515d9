package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"beyondink/internal/models"
	"beyondink/pkg/mailer"
)

// Mailer sends one rendered message.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) (json.RawMessage, error)
}

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "booking"}}<h2>New booking request</h2>
<p><b>Name:</b> {{.FullName}}</p>
<p><b>Email:</b> {{.Email}}</p>
<p><b>Reference:</b> {{.BookingReference}}</p>
<p><b>Placement:</b> {{.Placement}}</p>
<p><b>Idea:</b> {{if .TattooIdea}}{{.TattooIdea}}{{else}}-{{end}}</p>
<p><b>Refs:</b> {{range $i, $u := .ReferenceImageURLs}}{{if $i}}<br/>{{end}}<a href="{{$u}}">{{$u}}</a>{{end}}</p>{{end}}
{{define "subscription"}}<h2>Welcome{{if .FullName}}, {{.FullName}}{{end}}!</h2><p>You’re on our list — expect flash days, drops, and offers.</p>{{end}}
{{define "contact"}}<h2>New contact message</h2>
<p><b>Name:</b> {{.Name}}</p>
<p><b>Email:</b> {{.Email}}</p>
<p>{{.Message}}</p>{{end}}
`))

// EmailService renders and sends the transactional emails.
type EmailService struct {
	mailer   Mailer
	from     string
	notifyTo string
}

// NewEmailService creates an EmailService. Studio notifications go to notifyTo;
// welcome emails go to the subscriber.
func NewEmailService(m Mailer, from, notifyTo string) *EmailService {
	return &EmailService{mailer: m, from: from, notifyTo: notifyTo}
}

// SendBookingEmail notifies the studio of a new booking request.
func (s *EmailService) SendBookingEmail(ctx context.Context, req models.BookingEmailRequest) (json.RawMessage, error) {
	if req.Booking == nil {
		return nil, errors.New("booking is required")
	}
	html, err := render("booking", req.Booking)
	if err != nil {
		return nil, err
	}
	subject := fmt.Sprintf("New booking: %s — %s", req.Booking.FullName, req.Booking.BookingReference)
	return s.send(ctx, s.notifyTo, subject, html)
}

// SendSubscriptionEmail welcomes a new mailing-list subscriber.
func (s *EmailService) SendSubscriptionEmail(ctx context.Context, req models.SubscriptionEmailRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, errors.New("email is required")
	}
	html, err := render("subscription", req)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, req.Email, "Welcome to the Beyond Ink list", html)
}

// SendContactEmail forwards a contact-form message to the studio.
func (s *EmailService) SendContactEmail(ctx context.Context, req models.ContactEmailRequest) (json.RawMessage, error) {
	if req.Contact == nil {
		return nil, errors.New("contact is required")
	}
	html, err := render("contact", req.Contact)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, s.notifyTo, fmt.Sprintf("New message from %s", req.Contact.Name), html)
}

// HandleEvent sends the email that belongs to a notification event.
func (s *EmailService) HandleEvent(ctx context.Context, event models.NotificationEvent) (json.RawMessage, error) {
	switch event.Kind {
	case models.EventBookingCreated:
		var req models.BookingEmailRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Kind, err)
		}
		return s.SendBookingEmail(ctx, req)
	case models.EventSubscriberCreated:
		var req models.SubscriptionEmailRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Kind, err)
		}
		return s.SendSubscriptionEmail(ctx, req)
	case models.EventContactCreated:
		var req models.ContactEmailRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Kind, err)
		}
		return s.SendContactEmail(ctx, req)
	default:
		return nil, fmt.Errorf("unknown notification event %q", event.Kind)
	}
}

func (s *EmailService) send(ctx context.Context, to, subject, html string) (json.RawMessage, error) {
	return s.mailer.Send(ctx, mailer.Message{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return buf.String(), nil
}
