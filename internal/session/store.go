package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned by Store.Get for unknown or expired ids.
var ErrNoSession = errors.New("session not found")

// Session is the server-side state behind a session cookie.
type Session struct {
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions by id.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, id string, s Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory. Sessions are lost on
// restart and are not shared between instances.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	session Session
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, id)
		return nil, ErrNoSession
	}
	s := e.session
	return &s, nil
}

func (m *MemoryStore) Save(ctx context.Context, id string, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, k)
		}
	}
	m.sessions[id] = memoryEntry{session: s, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RedisStore keeps sessions in Redis so every instance sees them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "necs:session:"}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, id string, s Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	return r.client.Set(ctx, r.prefix+id, data, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.prefix+id).Err()
}
