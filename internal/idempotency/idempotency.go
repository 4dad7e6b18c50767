// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInProgress means the first request with the key has not finished.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused means the key was first used for a different request.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// lockTTL bounds how long a crashed request can block its key.
const lockTTL = 30 * time.Second

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Response struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Result      []byte `json:"result"`
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Fingerprint identifies a request by its caller, route and body.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin returns the stored response for key when there is one. Otherwise it
// locks the key and returns nil; the caller must then Complete or Abort.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	stored, err := i.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if stored.Fingerprint != fingerprint {
			return nil, ErrKeyReused
		}
		return stored, nil
	}
	ok, err := i.store.Lock(ctx, key, lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInProgress
	}
	return nil, nil
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	data, found, err := i.store.Get(ctx, key)
	if err != nil || !found {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "decode idempotent response")
	}
	return &resp, nil
}

// Complete stores resp for replay and releases the key.
func (i *Idempotency) Complete(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode idempotent response")
	}
	if err := i.store.Set(ctx, key, data, i.ttl); err != nil {
		return err
	}
	return i.store.Unlock(ctx, key)
}

// Abort releases the key without storing anything, so the request can be
// retried.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.store.Unlock(ctx, key)
}
