package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"apotekpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginRejectsInactiveAndIssuesParsableToken(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir": {Username: "kasir", Password: "pass1234", Role: "cashier", Active: true},
			"lama":  {Username: "lama", Password: "pass1234", Role: "cashier", Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "lama", Password: "pass1234"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasir", Password: "salah"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " KASIR ", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "kasir" || actor.Role != "cashier" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := manager.ParseToken(resp.AccessToken + "x"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if string(manager.pinHash) == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestManagerPINDisabledWhenEmpty(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", &userStoreStub{})
	if manager.ValidateManagerPIN("") || manager.ValidateManagerPIN("123456") {
		t.Fatalf("expected every pin to fail when no manager pin is configured")
	}
}

func TestLoginPicksUpProvisionedAndDeactivatedAccounts(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	now := time.Now()
	manager.now = func() time.Time { return now }

	store.mu.Lock()
	store.users["apoteker"] = domain.UserAccount{Username: "apoteker", Password: mustHashPassword(t, "obat123"), Role: RoleCashier, Active: true}
	store.mu.Unlock()

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "apoteker", Password: "obat123"}); err != nil {
		t.Fatalf("expected unknown username to trigger a refresh, got %v", err)
	}

	store.mu.Lock()
	account := store.users["apoteker"]
	account.Active = false
	store.users["apoteker"] = account
	store.mu.Unlock()

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "apoteker", Password: "obat123"}); err != nil {
		t.Fatalf("expected cached credential inside refresh interval, got %v", err)
	}

	now = now.Add(credentialRefreshInterval + time.Second)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "apoteker", Password: "obat123"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount after refresh, got %v", err)
	}
}
