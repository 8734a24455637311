package platform

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool opens the main connection pool used for platform
// registration and global control-plane tables.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return pool, nil
}

// SchemaName returns the PostgreSQL schema a platform id's data lives in.
func SchemaName(platformID string) string {
	return fmt.Sprintf("platform_%s", platformID)
}

// ErrPlatformNotFound is returned by DatabaseManager.GetPlatformPool when no
// pool has been registered for the given platform id.
type ErrPlatformNotFound struct {
	PlatformID string
}

func (e *ErrPlatformNotFound) Error() string {
	return fmt.Sprintf("platform %q not found", e.PlatformID)
}

// DatabaseManager resolves a platform id to a cached per-platform
// connection pool, per the source's
// "multi-tenant DB pool lookup on each request" pattern generalized to a
// single long-lived manager rather than a per-request lookup (design note,
// SPEC_FULL.md DOMAIN STACK). The main pool is always available; platform
// pools are created lazily and cached for the manager's lifetime.
type DatabaseManager struct {
	mainPool    *pgxpool.Pool
	mainURL     string
	mu          sync.RWMutex
	platformURL map[string]string // platform id -> search_path-scoped database URL
	pools       map[string]*pgxpool.Pool
}

// NewDatabaseManager wraps an already-open main pool. mainURL is the
// database URL (credentials, host, port) shared by every platform;
// each platform pool additionally scopes to its own schema via search_path.
func NewDatabaseManager(mainPool *pgxpool.Pool, mainURL string) *DatabaseManager {
	return &DatabaseManager{
		mainPool:    mainPool,
		mainURL:     mainURL,
		platformURL: make(map[string]string),
		pools:       make(map[string]*pgxpool.Pool),
	}
}

// MainPool returns the shared pool backing platform registration and
// cross-platform control-plane tables.
func (m *DatabaseManager) MainPool() *pgxpool.Pool {
	return m.mainPool
}

// RegisterPlatform records the schema name a platform id resolves to. Call
// this once per platform, typically on platform provisioning.
func (m *DatabaseManager) RegisterPlatform(platformID, schema string) error {
	dbURL, err := withSearchPath(m.mainURL, schema)
	if err != nil {
		return fmt.Errorf("building platform database URL: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platformURL[platformID] = dbURL
	return nil
}

// GetPlatformPool returns the connection pool for platformID, opening and
// caching it on first use. Returns *ErrPlatformNotFound if the platform was
// never registered.
func (m *DatabaseManager) GetPlatformPool(ctx context.Context, platformID string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	if pool, ok := m.pools[platformID]; ok {
		m.mu.RUnlock()
		return pool, nil
	}
	dbURL, ok := m.platformURL[platformID]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrPlatformNotFound{PlatformID: platformID}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check after acquiring the write lock: another caller may have
	// opened the pool while we waited.
	if pool, ok := m.pools[platformID]; ok {
		return pool, nil
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("opening pool for platform %q: %w", platformID, err)
	}
	m.pools[platformID] = pool
	return pool, nil
}

// Close closes the main pool and every cached platform pool.
func (m *DatabaseManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.Close()
	}
	m.mainPool.Close()
}

// withSearchPath appends search_path=<schema> to a PostgreSQL connection URL.
func withSearchPath(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
