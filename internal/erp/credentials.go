package erp

import (
	"context"
	"errors"
	"sync"
)

// ErrCredentialsMissing means no ERP username/password is configured.
var ErrCredentialsMissing = errors.New("erp credentials missing")

// Credentials is the shared ERP login.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource supplies credentials for each request.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns the same pair.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	if s.Username == "" || s.Password == "" {
		return Credentials{}, ErrCredentialsMissing
	}
	return Credentials(s), nil
}

// CachedCredentials loads credentials lazily on first use and keeps them for
// the life of the process. Failed loads are not cached, so fixing the
// configuration takes effect on the next request.
type CachedCredentials struct {
	load func(ctx context.Context) (Credentials, error)

	mu     sync.Mutex
	loaded bool
	creds  Credentials
}

// NewCachedCredentials wraps load in a process-lifetime memo.
func NewCachedCredentials(load func(ctx context.Context) (Credentials, error)) *CachedCredentials {
	return &CachedCredentials{load: load}
}

func (c *CachedCredentials) Credentials(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.creds, nil
	}
	creds, err := c.load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, ErrCredentialsMissing
	}
	c.creds = creds
	c.loaded = true
	return creds, nil
}
