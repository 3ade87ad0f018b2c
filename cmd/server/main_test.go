package main

import (
	"context"
	"strings"
	"testing"

	"apotekpos/backend/internal/config"
	"apotekpos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrengthRejectsSequences(t *testing.T) {
	for _, pin := range []string{"234567", "876543", "777777"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
}

func TestSeedAdminOnlyOnEmptyStore(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "rahasia-admin")
	ctx := context.Background()

	empty := memory.New()
	if err := seedAdmin(ctx, empty); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	users, _ := empty.ListUsers(ctx)
	if len(users) != 1 || users[0].Username != "admin" || !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected hashed admin, got %+v", users)
	}

	if err := seedAdmin(ctx, empty); err != nil {
		t.Fatalf("second seed should be a no-op, got %v", err)
	}
	users, _ = empty.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected still one user, got %d", len(users))
	}
}

func TestSeedAdminRequiresPassword(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	if err := seedAdmin(context.Background(), memory.New()); err == nil {
		t.Fatalf("expected error without SEED_ADMIN_PASSWORD")
	}
}
