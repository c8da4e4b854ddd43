package source

import (
	"context"
	"errors"
	"time"

	"elastic-hive-sync/internal/model"
)

var (
	// ErrTransientFetch wraps every FetchRecent failure; callers treat it as
	// an empty batch and try again next cycle.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrUnhealthy is returned by TestConnection when the cluster answers but
	// reports itself unusable.
	ErrUnhealthy = errors.New("source unhealthy")
)

type Source interface {
	Name() string
	// TestConnection is the startup probe.
	TestConnection(ctx context.Context) error
	// FetchRecent returns up to max alerts newer than now-lookback, newest first.
	FetchRecent(ctx context.Context, lookback time.Duration, max int) ([]model.SourceAlert, error)
}
