// Package store persists the set of alert IDs that have already been
// forwarded, so a restart does not re-send them.
//
// Load never fails: a missing or unreadable location yields an empty set and
// a log line, which at worst means re-delivery (TheHive reports those as
// duplicates). Save failures are returned so the caller can retry later.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"elastic-hive-sync/internal/config"
)

// ErrPersist wraps every Save failure.
var ErrPersist = errors.New("persist processed state")

type Store interface {
	Name() string
	Load(ctx context.Context) *ProcessedSet
	Save(ctx context.Context, set *ProcessedSet) error
	Close() error
}

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "file", "":
		return NewFile(cfg.Path), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown state backend: %s", cfg.Backend)
	}
}

const timeLayout = time.RFC3339Nano

// parseUpdated accepts RFC 3339 and the zone-less ISO form older state files use.
func parseUpdated(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
