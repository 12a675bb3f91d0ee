// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package auth implements the AuthService collaborator (§6): password
// hashing and verification, expiring session tokens, and scope-bearing
// API tokens. Session state lives in-memory, keyed by token, on the
// expectation that a deployment pins clients to one server process; a
// clustered deployment swaps Service's session store for one backed by
// internal/kv without changing the interface.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSessionExpired     = errors.New("auth: session expired or unknown")
	ErrInvalidAPIToken    = errors.New("auth: invalid or revoked api token")
	ErrInvalidHash        = errors.New("auth: stored hash is not in the recognized format")
)

const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 8
	argon2SaltLength  = 16
	argon2KeyLength   = 32
)

// HashPassword derives an argon2id hash of password and returns it in
// the standard encoded representation, embedding a freshly generated
// salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Key := base64.RawStdEncoding.EncodeToString(key)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, argon2Memory, argon2Iterations, argon2Parallelism, b64Salt, b64Key), nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	const wantParts = 6
	if len(parts) != wantParts {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Session is an issued, time-bounded credential for one authenticated
// connection.
type Session struct {
	Token     string
	UserID    ids.UserID
	Scopes    []string // empty for a plain password-login session
	ExpiresAt time.Time
}

// Expired reports whether the session's absolute expiry has passed.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// APITokenRepository resolves a bearer API token to the user and scopes
// it grants. A narrow collaborator kept separate from UserRepository
// since a deployment may issue API tokens through an entirely different
// path (a web console, a provisioning script).
type APITokenRepository interface {
	Resolve(ctx context.Context, token string) (ids.UserID, []string, error)
}

// Config tunes session lifetime.
type Config struct {
	SessionTTL time.Duration
}

// DefaultConfig returns an 8-hour session lifetime.
func DefaultConfig() Config {
	return Config{SessionTTL: 8 * time.Hour}
}

// Service is the default AuthService implementation.
type Service struct {
	cfg        Config
	users      model.UserRepository
	apiTokens  APITokenRepository // may be nil if API-token login is disabled
	sessions   *xsync.Map[string, Session]
	byUser     *xsync.Map[ids.UserID, *xsync.Map[string, struct{}]]
	now        func() time.Time
}

// New builds a Service backed by the given user repository. apiTokens
// may be nil to disable API-token login.
func New(users model.UserRepository, apiTokens APITokenRepository) *Service {
	return NewWithConfig(DefaultConfig(), users, apiTokens)
}

// NewWithConfig builds a Service with an explicit Config.
func NewWithConfig(cfg Config, users model.UserRepository, apiTokens APITokenRepository) *Service {
	return &Service{
		cfg:       cfg,
		users:     users,
		apiTokens: apiTokens,
		sessions:  xsync.NewMap[string, Session](),
		byUser:    xsync.NewMap[ids.UserID, *xsync.Map[string, struct{}]](),
		now:       time.Now,
	}
}

// Register creates a new user account with a freshly hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:           ids.NewUserID(),
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues a fresh session. Ban checks are
// the caller's responsibility (the dispatcher consults BanRepository
// before and after this call per §4.3).
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, Session, error) {
	u, err := s.users.GetByName(ctx, username)
	if err != nil {
		return nil, Session{}, ErrInvalidCredentials
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, Session{}, ErrInvalidCredentials
	}
	if err := s.users.UpdateLastLogin(ctx, u.ID, s.now()); err != nil {
		return nil, Session{}, err
	}
	return u, s.issueSession(u.ID, nil), nil
}

// ValidateAPIToken resolves a bearer token and issues a session scoped
// identically to a password login (SPEC_FULL.md's Open Question
// resolution: one path, no inconsistent fallback).
func (s *Service) ValidateAPIToken(ctx context.Context, token string) (*model.User, Session, error) {
	if s.apiTokens == nil {
		return nil, Session{}, ErrInvalidAPIToken
	}
	userID, scopes, err := s.apiTokens.Resolve(ctx, token)
	if err != nil {
		return nil, Session{}, ErrInvalidAPIToken
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, Session{}, ErrInvalidAPIToken
	}
	return u, s.issueSession(u.ID, scopes), nil
}

func (s *Service) issueSession(user ids.UserID, scopes []string) Session {
	sess := Session{
		Token:     newToken(),
		UserID:    user,
		Scopes:    scopes,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	}
	s.sessions.Store(sess.Token, sess)
	tokens, _ := s.byUser.LoadOrStore(user, xsync.NewMap[string, struct{}]())
	tokens.Store(sess.Token, struct{}{})
	return sess
}

// ValidateSession resolves a session token to its user, rejecting an
// unknown or expired token.
func (s *Service) ValidateSession(ctx context.Context, token string) (*model.User, error) {
	sess, ok := s.sessions.Load(token)
	if !ok || sess.Expired(s.now()) {
		return nil, ErrSessionExpired
	}
	return s.users.GetByID(ctx, sess.UserID)
}

// Logout invalidates one session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, ok := s.sessions.LoadAndDelete(token)
	if !ok {
		return nil
	}
	if tokens, ok := s.byUser.Load(sess.UserID); ok {
		tokens.Delete(token)
	}
	return nil
}

// ChangePassword re-verifies the old password, rotates the stored hash,
// and invalidates every other session belonging to the user (§4.3).
func (s *Service) ChangePassword(ctx context.Context, user ids.UserID, oldPassword, newPassword string) error {
	u, err := s.users.GetByID(ctx, user)
	if err != nil {
		return err
	}
	ok, err := VerifyPassword(oldPassword, u.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = newHash
	u.MustChangePassword = false
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.invalidateAllSessions(user)
	return nil
}

func (s *Service) invalidateAllSessions(user ids.UserID) {
	tokens, ok := s.byUser.LoadAndDelete(user)
	if !ok {
		return
	}
	tokens.Range(func(token string, _ struct{}) bool {
		s.sessions.Delete(token)
		return true
	})
}

func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: system random source unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
