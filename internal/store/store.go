package store

import (
	"context"
	"errors"
)

// TokenKey is the fixed name the credential is persisted under.
const TokenKey = "token"

var ErrNotFound = errors.New("not found")

// CredentialStore is the durable storage contract used by the session layer.
// Load returns ErrNotFound when nothing is persisted. Delete is idempotent.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// Sealer encrypts values at rest. *secretbox.Box satisfies it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
