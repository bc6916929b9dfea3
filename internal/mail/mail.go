package mail

import "context"

// Template identifies the transactional email to send.
type Template string

const (
	TemplateVerifyEmail   Template = "verify_email"
	TemplatePasswordReset Template = "password_reset"
)

// Payload carries the variables rendered into a template.
type Payload struct {
	Name string
	Link string
}

// Sender is the delivery channel for transactional email. A send failure
// must never roll back token state persisted before the attempt; callers
// surface it as a warning and the stored token stays valid for a resend.
type Sender interface {
	Send(ctx context.Context, to string, template Template, payload Payload) error
}
