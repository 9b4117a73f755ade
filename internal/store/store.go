package store

import (
	"context"
	"errors"
	"time"

	"shipsync/internal/model"
)

// Store is the persistence interface used by the API server and the
// shipping pipeline.
type Store interface {
	// Method item cache
	ReplaceItems(ctx context.Context, country, carrier, methodType string, items []model.MethodItem) error
	GetItems(ctx context.Context, country, carrier, methodType string) ([]model.MethodItem, error)
	GetItem(ctx context.Context, itemID string) (model.MethodItem, error)
	GetCourierItemID(ctx context.Context, country, carrier string) (string, error)
	AvailableCountries(ctx context.Context, carrier, methodType string) ([]string, error)
	// ItemsExist reports whether any cached items match the scope; empty
	// parameters match everything.
	ItemsExist(ctx context.Context, country, carrier, methodType string) (bool, error)
	ItemsGroupedByLocality(ctx context.Context, country, carrier, methodType string) ([]model.LocalityGroup, error)

	// Advisory expiring locks
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
	LockExists(ctx context.Context, name string) (bool, error)

	// Key/value options (sync timestamps, webhook registration hash)
	GetOption(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error

	// Orders
	CreateOrder(ctx context.Context, o model.Order) (model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	FindOrderByMeta(ctx context.Context, key, value string) (model.Order, error)
	SetOrderMeta(ctx context.Context, orderID string, meta map[string]string) error
	AddOrderNote(ctx context.Context, orderID, note string) error
	ListOrderNotes(ctx context.Context, orderID string) ([]string, error)
}

var ErrNotFound = errors.New("not found")
