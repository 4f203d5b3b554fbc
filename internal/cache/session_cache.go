package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/intentflow/internal/config"
)

const defaultSessionTTL = 30 * time.Minute

// Session is the rolling activity window of one anonymous user.
type Session struct {
	SessionID    string    `json:"session_id" cbor:"1,keyasint"`
	AnonID       string    `json:"anon_id" cbor:"2,keyasint"`
	APIKey       string    `json:"-" cbor:"3,keyasint"`
	Platform     string    `json:"platform" cbor:"4,keyasint"`
	StartedAt    time.Time `json:"started_at" cbor:"5,keyasint"`
	LastActivity time.Time `json:"last_activity" cbor:"6,keyasint"`
	EventCount   int64     `json:"event_count" cbor:"7,keyasint"`
}

// Touch describes what a recorded event did to the session.
type Touch struct {
	Session    Session
	NewSession bool
	NewUser    bool
}

type SessionCache struct {
	store Store
	ttl   time.Duration
}

func NewSessionCache(store Store, cfg config.Config) *SessionCache {
	ttl := cfg.Session.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionCache{store: store, ttl: ttl}
}

func (c *SessionCache) Get(ctx context.Context, apiKey, anonID string) (*Session, error) {
	raw, err := c.store.Get(ctx, sessionKey(apiKey, anonID))
	if err != nil {
		return nil, err
	}
	var session Session
	if err := unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Touch records activity for (apiKey, anonID). An empty sessionID continues
// the cached session or starts a new one. The read-modify-write is not
// atomic; concurrent events of one user may undercount EventCount.
func (c *SessionCache) Touch(ctx context.Context, apiKey, anonID, sessionID, platform string, now time.Time) (Touch, error) {
	current, err := c.Get(ctx, apiKey, anonID)
	if err != nil && !errors.Is(err, ErrMiss) {
		return Touch{}, err
	}

	out := Touch{NewUser: current == nil}
	if current == nil || (sessionID != "" && sessionID != current.SessionID) {
		if sessionID == "" {
			sessionID = ulid.Make().String()
		}
		current = &Session{
			SessionID: sessionID,
			AnonID:    anonID,
			APIKey:    apiKey,
			StartedAt: now,
		}
		out.NewSession = true
	}

	current.LastActivity = now
	current.EventCount++
	if platform != "" {
		current.Platform = platform
	}

	raw, err := marshal(current)
	if err != nil {
		return Touch{}, fmt.Errorf("encode session: %w", err)
	}
	if err := c.store.Set(ctx, sessionKey(apiKey, anonID), raw, c.ttl); err != nil {
		return Touch{}, err
	}
	out.Session = *current
	return out, nil
}

func sessionKey(apiKey, anonID string) string {
	return cacheKey("session", apiKey, anonID)
}
