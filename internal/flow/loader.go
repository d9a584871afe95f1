package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	dbpkg "github.com/Joaopedrozoe/viainfra-sub001/internal/db"
)

// ErrNoFlow is returned when no active flow exists for a company and channel.
var ErrNoFlow = errors.New("no active flow")

// Loader reads the active flow graph for a company and channel. Graphs are
// cached with a TTL; concurrent loads for the same key are collapsed.
type Loader struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	graph   *Graph
	expires time.Time
}

// NewLoader creates a flow loader. ttl <= 0 disables caching.
func NewLoader(log *slog.Logger, pool *pgxpool.Pool, ttl time.Duration) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		pool:   pool,
		ttl:    ttl,
		logger: log.With(slog.String("service", "flow")),
		cache:  map[string]cacheEntry{},
	}
}

// Active returns the highest-version active graph for (company, channel).
func (l *Loader) Active(ctx context.Context, companyID, channel string) (*Graph, error) {
	key := companyID + "/" + channel

	if l.ttl > 0 {
		l.mu.Lock()
		entry, ok := l.cache[key]
		l.mu.Unlock()
		if ok && time.Now().Before(entry.expires) {
			return entry.graph, nil
		}
	}

	value, err, _ := l.group.Do(key, func() (any, error) {
		graph, err := l.load(ctx, companyID, channel)
		if err != nil {
			return nil, err
		}
		if l.ttl > 0 {
			l.mu.Lock()
			l.cache[key] = cacheEntry{graph: graph, expires: time.Now().Add(l.ttl)}
			l.mu.Unlock()
		}
		return graph, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Graph), nil
}

func (l *Loader) load(ctx context.Context, companyID, channel string) (*Graph, error) {
	pgCompanyID, err := dbpkg.ParseUUID(companyID)
	if err != nil {
		return nil, fmt.Errorf("invalid company id: %w", err)
	}
	var (
		id         pgtype.UUID
		version    int32
		definition []byte
	)
	err = l.pool.QueryRow(ctx, `
		SELECT id, version, definition
		FROM flows
		WHERE company_id = $1 AND channel = $2 AND is_active
		ORDER BY version DESC
		LIMIT 1`,
		pgCompanyID, channel,
	).Scan(&id, &version, &definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoFlow
	}
	if err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}

	graph, err := ParseDefinition(definition)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", dbpkg.UUIDToString(id), err)
	}
	graph.ID = dbpkg.UUIDToString(id)
	graph.Version = int(version)
	return graph, nil
}
