package honeypot

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-portal-auth"
)

var (
	ErrTrapFilled    = errors.New("honeypot field was filled")
	ErrSubmittedFast = errors.New("form submitted too fast")
)

// DefaultFieldName is a field humans never see and bots tend to fill
const DefaultFieldName = "website"

// DefaultTimestampField carries the unix time the form was rendered
const DefaultTimestampField = "rendered_at"

// Honeypot rejects submissions that filled the hidden trap field or that
// were posted faster than MinDelay after the form was rendered.
type Honeypot struct {
	Field          string
	TimestampField string
	MinDelay       time.Duration
	now            func() time.Time
}

var _ auth.HoneypotValidator = (*Honeypot)(nil)

func New(field ...string) *Honeypot {
	h := &Honeypot{
		Field:          DefaultFieldName,
		TimestampField: DefaultTimestampField,
		now:            time.Now,
	}
	if len(field) > 0 && field[0] != "" {
		h.Field = field[0]
	}
	return h
}

// WithMinDelay enables the render to submit timing check
func (h *Honeypot) WithMinDelay(d time.Duration) *Honeypot {
	h.MinDelay = d
	return h
}

func (h *Honeypot) WithClock(now func() time.Time) *Honeypot {
	if now != nil {
		h.now = now
	}
	return h
}

// Fields returns the hidden inputs a form must render: the empty trap
// field and, when timing is enabled, the render timestamp.
func (h *Honeypot) Fields() map[string]string {
	fields := map[string]string{h.Field: ""}
	if h.MinDelay > 0 {
		fields[h.TimestampField] = strconv.FormatInt(h.now().Unix(), 10)
	}
	return fields
}

// Check implements auth.HoneypotValidator
func (h *Honeypot) Check(form url.Values) error {
	if strings.TrimSpace(form.Get(h.Field)) != "" {
		return ErrTrapFilled
	}

	if h.MinDelay <= 0 {
		return nil
	}

	raw := form.Get(h.TimestampField)
	if raw == "" {
		return nil
	}

	rendered, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrSubmittedFast
	}

	if h.now().Sub(time.Unix(rendered, 0)) < h.MinDelay {
		return ErrSubmittedFast
	}
	return nil
}
