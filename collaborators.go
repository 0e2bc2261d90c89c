package auth

import (
	"context"
	"net/url"
)

// CSRFValidator must be invoked before trusting a mutating submission
type CSRFValidator interface {
	Validate(rc RequestContext) error
}

// HoneypotValidator rejects submissions that filled the bot trap field
type HoneypotValidator interface {
	Check(form url.Values) error
}

type noopCSRF struct{}

func (noopCSRF) Validate(RequestContext) error { return nil }

type noopHoneypot struct{}

func (noopHoneypot) Check(url.Values) error { return nil }

// ToastType is the visual flavour of a toast
type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
)

// Toast is a user facing notification rendered by the host application
type Toast struct {
	Type        ToastType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

func successToast(title, description string) *Toast {
	return &Toast{Type: ToastSuccess, Title: title, Description: description}
}

func errorToast(title, description string) *Toast {
	return &Toast{Type: ToastError, Title: title, Description: description}
}

// MailMessage is an out of band notification
type MailMessage struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer is the email transport contract
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, msg MailMessage) error

func (f MailerFunc) Send(ctx context.Context, msg MailMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// Notifier sends email best effort: failures are logged, never returned.
type Notifier struct {
	mailer Mailer
	logger Logger
}

func NewNotifier(mailer Mailer) *Notifier {
	return &Notifier{mailer: mailer, logger: defLogger{}}
}

func (n *Notifier) WithLogger(logger Logger) *Notifier {
	n.logger = normalizeLogger(logger)
	return n
}

func (n *Notifier) Notify(ctx context.Context, msg MailMessage) {
	if n == nil || n.mailer == nil {
		return
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.logger.Error("failed to send email %q to %s: %s", msg.Subject, msg.To, err)
	}
}
