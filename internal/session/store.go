// Package session owns the broker credential and its persistence.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
)

// Keys under which the credential is persisted.
const (
	TokenKey     = "invest_option_token"
	SessionIDKey = "invest_option_ssid"
)

// KV is the persistence backend for the credential.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Authenticator performs the broker side of login and logout.
type Authenticator interface {
	Authenticate(ctx context.Context, req domain.LoginRequest) (domain.Credential, domain.User, error)
	Logout(ctx context.Context, cred domain.Credential) error
}

// Store holds the current credential. It is safe for concurrent use.
type Store struct {
	kv     KV
	auth   Authenticator
	logger *zap.Logger

	mu   sync.RWMutex
	cred domain.Credential
	// epoch advances on every login and logout.
	epoch uint64
}

// New creates a store and loads any persisted credential.
func New(kv KV, auth Authenticator, logger *zap.Logger) (*Store, error) {
	if kv == nil {
		return nil, errors.New("session kv is required")
	}
	if auth == nil {
		return nil, errors.New("session authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{kv: kv, auth: auth, logger: logger.With(zap.String("component", "session"))}

	token, _, err := kv.Get(TokenKey)
	if err != nil {
		return nil, errors.Wrap(err, "load session token")
	}
	ssid, _, err := kv.Get(SessionIDKey)
	if err != nil {
		return nil, errors.Wrap(err, "load session id")
	}
	s.cred = domain.Credential{Token: token, SessionID: ssid}

	if !s.cred.IsZero() {
		s.epoch++
		s.cred.Epoch = s.epoch
		s.logger.Info("restored persisted session")
	}

	return s, nil
}

// Login authenticates against the broker and persists the credential on success.
// Failures are *domain.AuthError and leave both the held and the persisted credential untouched.
func (s *Store) Login(ctx context.Context, req domain.LoginRequest) (domain.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return domain.User{}, &domain.AuthError{Message: "email and password are required"}
	}

	cred, user, err := s.auth.Authenticate(ctx, req)
	if err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			return domain.User{}, authErr
		}
		return domain.User{}, &domain.AuthError{Message: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(cred); err != nil {
		// restore the previous credential over whatever was written
		if rbErr := s.persist(s.cred); rbErr != nil {
			s.logger.Error("failed to roll back partial session", zap.Error(rbErr))
		}
		return domain.User{}, &domain.AuthError{Message: "cannot persist session: " + err.Error()}
	}
	s.epoch++
	cred.Epoch = s.epoch
	s.cred = cred

	s.logger.Info("logged in", zap.String("user_id", user.ID))

	return user, nil
}

func (s *Store) persist(cred domain.Credential) error {
	for key, value := range map[string]string{TokenKey: cred.Token, SessionIDKey: cred.SessionID} {
		if value == "" {
			if err := s.kv.Delete(key); err != nil {
				return errors.Wrapf(err, "delete %s", key)
			}
			continue
		}
		if err := s.kv.Set(key, value); err != nil {
			return errors.Wrapf(err, "store %s", key)
		}
	}
	return nil
}

// Logout notifies the broker and then always clears the credential.
func (s *Store) Logout(ctx context.Context) error {
	cred, _ := s.Current()
	if !cred.IsZero() {
		if err := s.auth.Logout(ctx, cred); err != nil {
			s.logger.Warn("broker logout failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cred = domain.Credential{}
	if err := s.kv.Delete(TokenKey, SessionIDKey); err != nil {
		return errors.Wrap(err, "clear persisted session")
	}

	s.logger.Info("logged out")

	return nil
}

// IsAuthenticated reports whether a token or session id is held.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.Current()
	return ok
}

// Current returns the credential and whether it is non-empty.
func (s *Store) Current() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, !s.cred.IsZero()
}

// UpdateSessionID replaces the session id after the broker rotated it. sentWith is the
// credential the rotating request carried; rotations from a login that has since ended
// are dropped.
func (s *Store) UpdateSessionID(sentWith domain.Credential, id string) error {
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred.IsZero() || sentWith.Epoch != s.cred.Epoch {
		s.logger.Debug("dropped session id rotation from an ended login")
		return nil
	}
	if s.cred.SessionID == id {
		return nil
	}
	if err := s.kv.Set(SessionIDKey, id); err != nil {
		return errors.Wrap(err, "store rotated session id")
	}
	s.cred.SessionID = id

	return nil
}
