package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const defaultVerificationTTL = 15 * time.Minute

// Verifications issues and consumes short lived single use tokens used for
// onboarding handoff, password reset and email verification.
type Verifications struct {
	store VerificationStore
	ttl   time.Duration
	now   func() time.Time
}

func NewVerifications(store VerificationStore, cfg Config) *Verifications {
	ttl := defaultVerificationTTL
	if cfg != nil && cfg.GetVerificationTTL() > 0 {
		ttl = cfg.GetVerificationTTL()
	}
	return &Verifications{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (v *Verifications) WithClock(now func() time.Time) *Verifications {
	if now != nil {
		v.now = now
	}
	return v
}

// Tx returns a copy bound to the given store
func (v *Verifications) Tx(store VerificationStore) *Verifications {
	clone := *v
	clone.store = store
	return &clone
}

func (v *Verifications) TTL() time.Duration {
	return v.ttl
}

// Create stores data under a fresh random id
func (v *Verifications) Create(ctx context.Context, purpose VerificationPurpose, data VerificationData) (*Verification, error) {
	id, err := randomToken(32)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification id")
	}

	now := v.now().UTC()
	record := &Verification{
		ID:        id,
		Purpose:   purpose,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(v.ttl),
	}

	if err := v.store.Create(ctx, record); err != nil {
		return nil, mapStoreErr(err, "failed to store verification")
	}
	return record, nil
}

// Peek returns a live verification without consuming it
func (v *Verifications) Peek(ctx context.Context, id string, purpose VerificationPurpose) (*Verification, error) {
	if id == "" {
		return nil, ErrVerificationNotFound
	}

	record, err := v.store.Get(ctx, id)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrVerificationNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read verification")
	}

	if record.Purpose != purpose || record.IsExpired(v.now()) {
		return nil, ErrVerificationNotFound
	}
	return record, nil
}

// Consume returns the verification and deletes it. Only the caller that
// actually deletes the record gets it back, so a token is used at most once.
func (v *Verifications) Consume(ctx context.Context, id string, purpose VerificationPurpose) (*Verification, error) {
	record, err := v.Peek(ctx, id, purpose)
	if err != nil {
		return nil, err
	}

	deleted, err := v.store.Delete(ctx, id)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume verification")
	}
	if !deleted {
		return nil, ErrVerificationNotFound
	}
	return record, nil
}

// PurgeExpired removes verifications past their TTL
func (v *Verifications) PurgeExpired(ctx context.Context) (int, error) {
	return v.store.DeleteExpired(ctx, v.now().UTC())
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
