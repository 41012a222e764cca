package billingsdk

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Persisted keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
	KeyCurrentUser  = "currentUser"
	KeyCustomerID   = "customer_id"
	KeySessionID    = "sessionId"

	// Cookie mirrors of the access token kept for backend compatibility.
	CookieJWT           = "jwt"
	CookieAuthorization = "Authorization"
	CookieJSessionID    = "JSESSIONID"

	// Legacy key written by older admin tooling. Only ever cleared.
	keyAdminToken = "adminToken"
)

// storeKeys lists everything cleared from the key-value channel on logout.
var storeKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyTokenExpiry,
	KeyCurrentUser,
	keyAdminToken,
	KeySessionID,
	KeyCustomerID,
}

// cookieKeys lists everything cleared from the cookie channel on logout.
var cookieKeys = []string{
	KeyCustomerID,
	CookieJSessionID,
	KeyAccessToken,
	KeyRefreshToken,
	CookieJWT,
	CookieAuthorization,
}

// Channel is one place session state is persisted. Get reports ok=false
// for missing keys; an error means the channel itself failed.
type Channel interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryChannel is an in-process Channel. It backs tests and ephemeral
// runs and is the default when no durable store is configured.
type MemoryChannel struct {
	name string

	mu   sync.Mutex
	data map[string]string
}

func NewMemoryChannel(name string) *MemoryChannel {
	if name == "" {
		name = "memory"
	}
	return &MemoryChannel{name: name, data: make(map[string]string)}
}

func (m *MemoryChannel) Name() string { return m.name }

func (m *MemoryChannel) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryChannel) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryChannel) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryChannel) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.data))
}

// Len returns the number of stored keys.
func (m *MemoryChannel) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
