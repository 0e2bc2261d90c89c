package auth

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AuditAction enumerates the security relevant actions we record
type AuditAction string

const (
	AuditLoginSuccess          AuditAction = "auth.login.success"
	AuditLoginFailure          AuditAction = "auth.login.failure"
	AuditLogout                AuditAction = "auth.logout"
	AuditProviderLogin         AuditAction = "auth.provider.login"
	AuditConnectionCreated     AuditAction = "auth.connection.created"
	AuditOnboardingCompleted   AuditAction = "auth.onboarding.completed"
	AuditPasswordResetRequest  AuditAction = "auth.password.reset_requested"
	AuditPasswordResetComplete AuditAction = "auth.password.reset"
	AuditProfileApproved       AuditAction = "user.profile.approved"
)

const (
	EntitySession    = "session"
	EntityConnection = "connection"
	EntityUser       = "user"
)

// AuditSink receives audit entries after they are persisted. Sinks are
// best effort, errors are logged and ignored.
type AuditSink interface {
	Consume(ctx context.Context, entry AuditEntry) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, entry AuditEntry) error

// Consume implements AuditSink.
func (f AuditSinkFunc) Consume(ctx context.Context, entry AuditEntry) error {
	if f == nil {
		return nil
	}
	return f(ctx, entry)
}

// AuditLog writes append only audit records. A failed write is returned as
// ErrAuditWriteFailure so the enclosing operation can abort.
type AuditLog struct {
	store  AuditStore
	sinks  []AuditSink
	logger Logger
	now    func() time.Time
}

func NewAuditLog(store AuditStore) *AuditLog {
	return &AuditLog{
		store:  store,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (a *AuditLog) WithLogger(logger Logger) *AuditLog {
	a.logger = normalizeLogger(logger)
	return a
}

func (a *AuditLog) WithSinks(sinks ...AuditSink) *AuditLog {
	for _, s := range sinks {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
	return a
}

func (a *AuditLog) WithClock(now func() time.Time) *AuditLog {
	if now != nil {
		a.now = now
	}
	return a
}

// Tx returns a copy of the log writing through the given store
func (a *AuditLog) Tx(store AuditStore) *AuditLog {
	clone := *a
	clone.store = store
	return &clone
}

// Record appends an audit entry. principalID may be uuid.Nil for anonymous actors.
func (a *AuditLog) Record(ctx context.Context, principalID uuid.UUID, action AuditAction, entity string, details map[string]any) error {
	now := a.now().UTC()
	entry := &AuditEntry{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Action:     action,
		Entity:     entity,
		Details:    details,
		OccurredAt: now,
	}
	if principalID != uuid.Nil {
		entry.PrincipalID = principalID.String()
	}

	if a.store == nil {
		return ErrAuditWriteFailure.Clone().WithMetadata(map[string]any{"action": string(action)})
	}

	if err := a.store.Append(ctx, entry); err != nil {
		a.logger.Error("audit write failed action=%s entity=%s: %s", action, entity, err)
		richErr := ErrAuditWriteFailure.Clone().WithMetadata(map[string]any{
			"action": string(action),
			"entity": entity,
		})
		richErr.Source = err
		return richErr
	}

	a.logger.Debug("audit %s %s principal=%s details=%s", action, entity, entry.PrincipalID, print.MaybePrettyJSON(details))

	for _, sink := range a.sinks {
		if err := sink.Consume(ctx, *entry); err != nil {
			a.logger.Error("audit sink failed for %s: %s", action, err)
		}
	}

	return nil
}
