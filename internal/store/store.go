package store

import (
	"context"
	"errors"

	"apotekpos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
)

// SnapshotStore holds one opaque ledger document per key.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, payload []byte) error
	GetSnapshot(ctx context.Context, key string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, key string) error
}

// ParameterSource supplies the fixed fee per transaction type.
type ParameterSource interface {
	ListServiceCharges(ctx context.Context) (map[domain.TransactionType]int64, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	SnapshotStore
	ParameterSource
	UserStore
}
