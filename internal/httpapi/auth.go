package httpapi

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/metrics"
)

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

const (
	tokenIssuer               = "apotekpos"
	credentialRefreshInterval = 30 * time.Second
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the subset of the repository the auth layer reads from.
type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues access tokens for operators and checks the manager PIN
// that guards full returns. Credentials are cached and re-read from the
// user store at most every credentialRefreshInterval, or immediately when an
// unknown username signs in.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	users    UserStore
	now      func() time.Time

	mu          sync.RWMutex
	credentials map[string]credential
	refreshedAt time.Time
}

type credential struct {
	hash   string
	role   string
	active bool
}

type operatorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		users:       users,
		now:         time.Now,
		credentials: make(map[string]credential),
	}
	// An empty PIN leaves full returns disabled.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[auth] WARN: manager pin not usable: %v", err)
		} else {
			a.pinHash = hash
		}
	}
	a.refresh(context.Background())
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))

	cred, ok := a.lookup(username)
	if !ok || a.stale() {
		refreshCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.refresh(refreshCtx)
		cancel()
		cred, ok = a.lookup(username)
	}
	if !ok || !verifyPassword(cred.hash, req.Password) {
		metrics.AuthAttempts.WithLabelValues("login", "invalid").Inc()
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !cred.active {
		metrics.AuthAttempts.WithLabelValues("login", "inactive").Inc()
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	metrics.AuthAttempts.WithLabelValues("login", "ok").Inc()

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &operatorClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

// ValidateManagerPIN reports whether pin matches the configured manager PIN.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	ok := input != "" && len(a.pinHash) > 0 &&
		bcrypt.CompareHashAndPassword(a.pinHash, []byte(input)) == nil
	metrics.AuthAttempts.WithLabelValues("manager_pin", metrics.Bool(ok)).Inc()
	return ok
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) lookup(username string) (credential, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cred, ok := a.credentials[username]
	return cred, ok
}

func (a *AuthManager) stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.now().Sub(a.refreshedAt) > credentialRefreshInterval
}

// refresh reloads the credential cache. Plain-text passwords left over from
// manual provisioning are hashed and written back.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.users == nil {
		return
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: list users: %v", err)
		return
	}

	loaded := make(map[string]credential, len(accounts))
	for _, account := range accounts {
		username := strings.ToLower(strings.TrimSpace(account.Username))
		if username == "" {
			continue
		}
		hash := account.Password
		if !isPasswordHash(hash) {
			upgraded, err := bcrypt.GenerateFromPassword([]byte(hash), bcrypt.DefaultCost)
			if err != nil {
				continue
			}
			hash = string(upgraded)
			if err := a.users.UpdateUserPassword(ctx, username, hash); err != nil {
				log.Printf("[auth] WARN: upgrade password for %s: %v", username, err)
			}
		}
		loaded[username] = credential{hash: hash, role: account.Role, active: account.Active}
	}

	a.mu.Lock()
	a.credentials = loaded
	a.refreshedAt = a.now()
	a.mu.Unlock()
}

func verifyPassword(hash string, input string) bool {
	if hash == "" || strings.TrimSpace(input) == "" || !isPasswordHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
