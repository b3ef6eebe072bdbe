package app

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

// Session binds an internal user id to its live TropiPay client.
type Session struct {
	UserID      string
	ClientID    string
	Environment string
	Client      *tropipay.Client

	secretHash []byte
	detach     func()
}

// MatchesSecret reports whether secret is the one the session was created with.
func (s *Session) MatchesSecret(secret string) bool {
	if len(s.secretHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret)) == nil
}

func (s *Session) close() {
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// SessionRegistry keeps live sessions in memory with a sliding idle TTL.
type SessionRegistry struct {
	cache    *gocache.Cache
	ttl      time.Duration
	hashCost int
	logger   *slog.Logger
}

// NewSessionRegistry creates a registry whose sessions expire after ttl without use.
func NewSessionRegistry(ttl time.Duration, logger *slog.Logger) *SessionRegistry {
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	r := &SessionRegistry{
		cache:    gocache.New(ttl, cleanup),
		ttl:      ttl,
		hashCost: bcrypt.DefaultCost,
		logger:   logger,
	}
	r.cache.OnEvicted(func(userID string, v any) {
		if s, ok := v.(*Session); ok {
			s.close()
			r.logger.Debug("session evicted", "component", "session_registry", "user_id", userID)
		}
	})
	return r
}

// HashSecret returns the bcrypt hash stored for re-login matching.
func (r *SessionRegistry) HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), r.hashCost)
}

// Get returns the session of userID and extends its lifetime.
func (r *SessionRegistry) Get(userID string) (*Session, bool) {
	v, ok := r.cache.Get(userID)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	r.cache.Set(userID, s, gocache.DefaultExpiration)
	return s, true
}

// Put stores s, closing any session it replaces.
func (r *SessionRegistry) Put(s *Session) {
	if v, ok := r.cache.Get(s.UserID); ok {
		if old := v.(*Session); old != s {
			old.close()
		}
	}
	r.cache.Set(s.UserID, s, gocache.DefaultExpiration)
}

// Remove deletes the session of userID.
func (r *SessionRegistry) Remove(userID string) {
	r.cache.Delete(userID)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	return r.cache.ItemCount()
}

// Sweep drops expired sessions immediately.
func (r *SessionRegistry) Sweep() {
	r.cache.DeleteExpired()
}
