// Package karma maintains the per-run cache of daily ranking snapshots and
// the username index derived from them.
package karma

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/realvg"
	"github.com/rklstats/rosterlink/internal/storage"
)

// Cache memoizes per-date ranking snapshots for the duration of a run.
// Lookups go memory → local snapshot store (when configured) → network.
// A fetch failure yields an empty map for that date and is never fatal.
type Cache struct {
	source realvg.Source
	store  *storage.DB
	log    zerolog.Logger
	dates  map[string]map[string]model.KarmaEntry
	names  *UsernameIndex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithStore adds a local snapshot store as a second cache tier.
func WithStore(db *storage.DB) CacheOption {
	return func(c *Cache) { c.store = db }
}

// WithLogger sets the cache logger.
func WithLogger(log zerolog.Logger) CacheOption {
	return func(c *Cache) { c.log = log }
}

// NewCache returns an empty cache backed by the given ranking source.
func NewCache(source realvg.Source, opts ...CacheOption) *Cache {
	c := &Cache{
		source: source,
		log:    zerolog.Nop(),
		dates:  make(map[string]map[string]model.KarmaEntry),
		names:  NewUsernameIndex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Names returns the username index built from every snapshot seen so far.
func (c *Cache) Names() *UsernameIndex { return c.names }

// Lookup returns the karma entry for a user on a date, if the date has been
// fetched and the user appears in it. It never triggers a fetch.
func (c *Cache) Lookup(date, userID string) (model.KarmaEntry, bool) {
	e, ok := c.dates[date][userID]
	return e, ok
}

// ForDate returns the complete snapshot for a date, fetching it at most once.
// Repeated calls return the memoized map without a network round trip.
func (c *Cache) ForDate(ctx context.Context, date string) map[string]model.KarmaEntry {
	if entries, ok := c.dates[date]; ok {
		return entries
	}

	if entries, ok := c.loadStored(date); ok {
		c.admit(date, entries)
		return entries
	}

	users, err := c.source.KarmaForDate(ctx, date)
	if err != nil {
		c.log.Warn().Str("date", date).Err(err).Msg("karma fetch failed; treating date as empty")
		c.dates[date] = map[string]model.KarmaEntry{}
		return c.dates[date]
	}

	entries := toEntries(users)
	c.admit(date, entries)
	c.persist(date, users)
	return entries
}

// Warm pre-fetches snapshots for every date, using the batched transport when
// the source supports it. Per-date failures are logged and skipped.
func (c *Cache) Warm(ctx context.Context, dates []string) error {
	missing := make([]string, 0, len(dates))
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		if seen[d] {
			continue
		}
		seen[d] = true
		if _, ok := c.dates[d]; ok {
			continue
		}
		if entries, ok := c.loadStored(d); ok {
			c.admit(d, entries)
			continue
		}
		missing = append(missing, d)
	}
	sort.Strings(missing)

	if batch, ok := c.source.(realvg.BatchSource); ok && len(missing) > 1 {
		results, err := batch.KarmaForDates(ctx, missing)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("batched karma fetch failed; falling back to per-date fetches")
		}
		remaining := missing[:0]
		for _, d := range missing {
			users, ok := results[d]
			if !ok {
				remaining = append(remaining, d)
				continue
			}
			c.admit(d, toEntries(users))
			c.persist(d, users)
			c.log.Info().Str("date", d).Int("entries", len(users)).Msg("karma snapshot loaded")
		}
		missing = remaining
	}

	for _, d := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries := c.ForDate(ctx, d)
		c.log.Info().Str("date", d).Int("entries", len(entries)).Msg("karma snapshot loaded")
	}
	return ctx.Err()
}

// admit memoizes a snapshot and extends the username index with its entries.
func (c *Cache) admit(date string, entries map[string]model.KarmaEntry) {
	c.dates[date] = entries
	for id, e := range entries {
		c.names.Add(e.Username, id)
	}
}

func (c *Cache) loadStored(date string) (map[string]model.KarmaEntry, bool) {
	if c.store == nil {
		return nil, false
	}
	fetched, err := c.store.SnapshotFetched(date)
	if err != nil || !fetched {
		return nil, false
	}
	entries, err := c.store.LoadSnapshot(date)
	if err != nil {
		c.log.Warn().Str("date", date).Err(err).Msg("snapshot store read failed")
		return nil, false
	}
	return entries, true
}

func (c *Cache) persist(date string, users []realvg.RankedUser) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSnapshot(date, users); err != nil {
		c.log.Warn().Str("date", date).Err(err).Msg("snapshot store write failed")
	}
}

func toEntries(users []realvg.RankedUser) map[string]model.KarmaEntry {
	entries := make(map[string]model.KarmaEntry, len(users))
	for _, u := range users {
		entries[u.UserID] = model.KarmaEntry{
			Amount:   u.Amount,
			Rank:     u.Rank,
			Username: u.Username,
		}
	}
	return entries
}
