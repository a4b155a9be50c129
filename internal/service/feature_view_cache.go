package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/observability"
)

// RefreshTrigger names the event that asked for a cache refresh. All
// triggers funnel into the same refresh routine.
type RefreshTrigger string

const (
	TriggerInitial      RefreshTrigger = "initial"
	TriggerStale        RefreshTrigger = "stale"
	TriggerTimer        RefreshTrigger = "timer"
	TriggerFocus        RefreshTrigger = "focus"
	TriggerVisibility   RefreshTrigger = "visibility"
	TriggerInvalidation RefreshTrigger = "invalidation"
)

// ViewFetchFunc produces a fresh resolved view set for one cache key.
type ViewFetchFunc func(ctx context.Context) (domain.ResolvedFeatureSet, error)

// ViewCacheStore is an optional shared second-level cache behind the
// in-process one, so instances restarted mid-traffic warm up without
// hitting the database.
type ViewCacheStore interface {
	Get(ctx context.Context, key string) (domain.ResolvedFeatureSet, bool, error)
	Set(ctx context.Context, tenantID, key string, set domain.ResolvedFeatureSet, ttl time.Duration) error
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateAll(ctx context.Context) error
}

// CacheKeyFor builds the cache key for a tenant and caller class. Two
// callers with the same user type and role set share one entry.
func CacheKeyFor(tenantID string, caller domain.Caller) string {
	roles := append([]string(nil), caller.Roles...)
	sort.Strings(roles)
	h := fnv.New64a()
	fmt.Fprintf(h, "%t|%s|%s", caller.IsAuthenticated, caller.UserType, strings.Join(roles, ","))
	return fmt.Sprintf("views:%s:%x", tenantID, h.Sum64())
}

func tenantKeyPrefix(tenantID string) string {
	return "views:" + tenantID + ":"
}

type viewCacheEntry struct {
	set      domain.ResolvedFeatureSet
	hasValue bool
	fetch    ViewFetchFunc
	inFlight bool
	done     chan struct{}
	lastErr  error
}

// FeatureViewCacheOptions tunes the controller. Clock is injectable so
// staleness can be tested without sleeping.
type FeatureViewCacheOptions struct {
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Clock        func() time.Time
	Store        ViewCacheStore
	StoreTTL     time.Duration
	Logger       *slog.Logger
}

// FeatureViewCache keeps resolved feature views per (tenant, caller
// class) key with stale-while-revalidate semantics: a present entry is
// returned immediately even when stale, and a background refresh is
// started at most once per key. A failed refresh never evicts the last
// good value.
type FeatureViewCache struct {
	staleAfter   time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	store        ViewCacheStore
	storeTTL     time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*viewCacheEntry
}

func NewFeatureViewCache(opts FeatureViewCacheOptions) *FeatureViewCache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StoreTTL <= 0 {
		opts.StoreTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FeatureViewCache{
		staleAfter:   opts.StaleAfter,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Clock,
		store:        opts.Store,
		storeTTL:     opts.StoreTTL,
		logger:       opts.Logger,
		entries:      map[string]*viewCacheEntry{},
	}
}

// Get returns the cached view set for the key. A present entry is
// served immediately; when it is older than the staleness window a
// single background refresh is started. The first call for a key blocks
// until the initial fetch resolves, and concurrent first calls share
// that one fetch.
func (c *FeatureViewCache) Get(ctx context.Context, tenantID string, caller domain.Caller, fetch ViewFetchFunc) (domain.ResolvedFeatureSet, error) {
	key := CacheKeyFor(tenantID, caller)

	c.mu.Lock()
	entry := c.entryLocked(key)
	entry.fetch = fetch
	if entry.hasValue {
		set := entry.set
		if c.now().Sub(set.FetchedAt) > c.staleAfter && !entry.inFlight {
			c.startRefreshLocked(key, entry, TriggerStale)
		}
		c.mu.Unlock()
		return set, nil
	}

	if !entry.inFlight && c.store != nil {
		c.mu.Unlock()
		if set, ok, err := c.store.Get(ctx, key); err != nil {
			c.logger.WarnContext(ctx, "view cache store read failed", "key", key, "error", err)
		} else if ok {
			c.mu.Lock()
			entry = c.entryLocked(key)
			entry.fetch = fetch
			entry.set = set
			entry.hasValue = true
			if c.now().Sub(set.FetchedAt) > c.staleAfter && !entry.inFlight {
				c.startRefreshLocked(key, entry, TriggerStale)
			}
			c.mu.Unlock()
			return set, nil
		}
		c.mu.Lock()
		entry = c.entryLocked(key)
		entry.fetch = fetch
	}

	if !entry.inFlight {
		c.startRefreshLocked(key, entry, TriggerInitial)
	}
	done := entry.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return domain.ResolvedFeatureSet{}, &TransientError{Op: "feature view fetch", Err: ctx.Err()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !entry.hasValue {
		return domain.ResolvedFeatureSet{}, entry.lastErr
	}
	return entry.set, nil
}

// TriggerRefresh asks for a refresh of every entry of the tenant. A key
// with a fetch already in flight coalesces the trigger into it.
func (c *FeatureViewCache) TriggerRefresh(tenantID string, trigger RefreshTrigger) {
	prefix := tenantKeyPrefix(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		c.triggerEntryLocked(key, entry, trigger)
	}
}

// TriggerRefreshAll is the recurring-timer entry point.
func (c *FeatureViewCache) TriggerRefreshAll(trigger RefreshTrigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		c.triggerEntryLocked(key, entry, trigger)
	}
}

func (c *FeatureViewCache) triggerEntryLocked(key string, entry *viewCacheEntry, trigger RefreshTrigger) {
	if entry.fetch == nil {
		return
	}
	if entry.inFlight {
		observability.RecordCacheRefresh(context.Background(), string(trigger), "coalesced")
		return
	}
	c.startRefreshLocked(key, entry, trigger)
}

// Invalidate drops one tenant's entries from the in-process cache and
// the shared store. Subsequent reads fetch fresh data.
func (c *FeatureViewCache) Invalidate(ctx context.Context, tenantID string) error {
	prefix := tenantKeyPrefix(tenantID)
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.InvalidateTenant(ctx, tenantID); err != nil {
		return &TransientError{Op: "view cache invalidate", Err: err}
	}
	return nil
}

// InvalidateAll stales every tenant at once: the shared store is
// flushed so no instance warms up from a pre-mutation entry, and every
// in-process entry is refreshed in place.
func (c *FeatureViewCache) InvalidateAll(ctx context.Context) error {
	if c.store != nil {
		if err := c.store.InvalidateAll(ctx); err != nil {
			c.TriggerRefreshAll(TriggerInvalidation)
			return &TransientError{Op: "view cache invalidate all", Err: err}
		}
	}
	c.TriggerRefreshAll(TriggerInvalidation)
	return nil
}

// Run drives the recurring-timer trigger until ctx is done.
func (c *FeatureViewCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.TriggerRefreshAll(TriggerTimer)
		}
	}
}

func (c *FeatureViewCache) entryLocked(key string) *viewCacheEntry {
	entry, ok := c.entries[key]
	if !ok {
		entry = &viewCacheEntry{}
		c.entries[key] = entry
	}
	return entry
}

func (c *FeatureViewCache) startRefreshLocked(key string, entry *viewCacheEntry, trigger RefreshTrigger) {
	entry.inFlight = true
	done := make(chan struct{})
	entry.done = done
	fetch := entry.fetch

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()
		set, err := fetch(ctx)

		c.mu.Lock()
		entry.inFlight = false
		if err != nil {
			entry.lastErr = &TransientError{Op: "feature view fetch", Err: err}
		} else {
			entry.set = set
			entry.hasValue = true
			entry.lastErr = nil
		}
		c.mu.Unlock()
		close(done)

		if err != nil {
			observability.RecordCacheRefresh(ctx, string(trigger), "failure")
			c.logger.WarnContext(ctx, "feature view refresh failed", "key", key, "trigger", string(trigger), "error", err)
			return
		}
		observability.RecordCacheRefresh(ctx, string(trigger), "success")
		if c.store != nil {
			if storeErr := c.store.Set(ctx, tenantFromKey(key), key, set, c.storeTTL); storeErr != nil {
				c.logger.WarnContext(ctx, "view cache store write failed", "key", key, "error", storeErr)
			}
		}
	}()
}

func tenantFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
