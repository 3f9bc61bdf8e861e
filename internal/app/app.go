// Package app provides the transaction coordinator of the marketplace.
// It is the only component that touches both the ledger and the catalog in
// one logical operation. Store errors are returned to the caller unchanged
// (wrapped at most), and nothing is retried internally: a buy is not
// idempotent unless the caller supplies an idempotency key.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/catalog"
	"marketplace/internal/credentials"
	"marketplace/internal/events"
	"marketplace/internal/idempotency"
	"marketplace/internal/ledger"
	"marketplace/internal/models"
	"marketplace/internal/pkg/auth"
	"marketplace/internal/pkg/lock"
	"marketplace/internal/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Predefined errors for missing required parameters in requests.
var (
	// ErrMissingUsernameOrPassword indicates that either the username or password is not provided.
	ErrMissingUsernameOrPassword = errors.New("app: missing username or password")
	// ErrUnauthenticated indicates that no principal was supplied with the request.
	ErrUnauthenticated = errors.New("app: unauthenticated")
	// ErrRateLimited indicates that registrations are arriving too fast.
	ErrRateLimited = errors.New("app: rate limit exceeded")
)

// Options tune the coordinator.
type Options struct {
	// InitialCoins is the balance of a newly registered account.
	InitialCoins int64
	// SingleUnit delists an item as part of its purchase.
	SingleUnit bool
	// LockTimeout bounds waits on idempotency keys.
	LockTimeout time.Duration
	// RegistrationLimit throttles new accounts; nil means unlimited.
	RegistrationLimit *rate.Limiter
	// RequireRegistration makes logins of unknown users fail instead of
	// registering them.
	RequireRegistration bool
}

// App encapsulates the coordinator logic and the collaborators it drives.
type App struct {
	ledger      *ledger.Ledger
	catalog     *catalog.Catalog
	credentials *credentials.Registry
	signer      *auth.Signer
	receipts    idempotency.Store
	publisher   events.Publisher
	keys        *lock.Keyed
	opts        Options
	tracer      trace.Tracer
	now         func() time.Time
	log         *logger.Logger
}

// NewApp creates and returns a new instance of App. receipts and publisher
// may be nil, in which case an in-memory store and a no-op publisher are used.
func NewApp(l *ledger.Ledger, c *catalog.Catalog, creds *credentials.Registry, signer *auth.Signer,
	receipts idempotency.Store, publisher events.Publisher, opts Options, log *logger.Logger) *App {
	if receipts == nil {
		receipts = idempotency.NewMemory(idempotency.DefaultTTL)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	return &App{
		ledger:      l,
		catalog:     c,
		credentials: creds,
		signer:      signer,
		receipts:    receipts,
		publisher:   publisher,
		keys:        lock.NewKeyed(opts.LockTimeout),
		opts:        opts,
		tracer:      otel.Tracer("marketplace/app"),
		now:         func() time.Time { return time.Now().UTC() },
		log:         log,
	}
}

// CreateAccount opens a ledger account.
func (app *App) CreateAccount(ctx context.Context, user string, initialCoins int64) error {
	return app.ledger.CreateAccount(ctx, user, initialCoins)
}

// GetBalance returns the coin balance of user.
func (app *App) GetBalance(ctx context.Context, user string) (int64, error) {
	return app.ledger.GetBalance(ctx, user)
}

// ListItems returns the catalog in creation order.
func (app *App) ListItems(ctx context.Context) []models.Item {
	return app.catalog.ListItems(ctx)
}

// GetItem returns one catalog item.
func (app *App) GetItem(ctx context.Context, id int64) (models.Item, error) {
	return app.catalog.GetItem(ctx, id)
}

// CreateItem lists an item on behalf of principal, who must hold an account.
func (app *App) CreateItem(ctx context.Context, principal, name, description string, price int64, contentRef string) (models.Item, error) {
	if principal == "" {
		return models.Item{}, ErrUnauthenticated
	}
	if _, err := app.ledger.GetBalance(ctx, principal); err != nil {
		return models.Item{}, err
	}

	item, err := app.catalog.CreateItem(ctx, principal, name, description, price, contentRef)
	if err != nil {
		return models.Item{}, err
	}
	app.log.Sugar().Infof("Item %d listed by %s for %d", item.ID, principal, item.Price)
	return item, nil
}

// DeleteItem delists an item owned by principal.
func (app *App) DeleteItem(ctx context.Context, principal string, id int64) error {
	if principal == "" {
		return ErrUnauthenticated
	}
	return app.catalog.DeleteItem(ctx, id, principal)
}

// BuyItem moves the item's price from buyer to the item's owner.
//
// The item stays locked for the whole purchase, so it cannot be deleted
// halfway; the two accounts are locked in lexicographic order inside the
// ledger transfer. With a non-empty idempotencyKey, a repeated request by
// the same buyer returns the first receipt without charging again.
func (app *App) BuyItem(ctx context.Context, buyer string, itemID int64, idempotencyKey string) (*models.Receipt, error) {
	ctx, span := app.tracer.Start(ctx, "app.buy_item",
		trace.WithAttributes(
			attribute.String("buyer", buyer),
			attribute.Int64("item.id", itemID),
			attribute.Bool("idempotent", idempotencyKey != ""),
		),
	)
	defer span.End()

	receipt, err := app.buyItem(ctx, buyer, itemID, idempotencyKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("receipt.id", receipt.ID.String()), attribute.Int64("amount", receipt.Amount))
	return receipt, nil
}

func (app *App) buyItem(ctx context.Context, buyer string, itemID int64, idempotencyKey string) (*models.Receipt, error) {
	if buyer == "" {
		return nil, ErrUnauthenticated
	}

	if idempotencyKey == "" {
		return app.purchase(ctx, buyer, itemID)
	}

	key := buyer + ":" + strings.TrimSpace(idempotencyKey)
	release, err := app.keys.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	previous, ok, err := app.receipts.Get(ctx, key)
	if err != nil {
		app.log.Sugar().Errorf("Failed to look up idempotency key %s: %s", key, err)
		return nil, fmt.Errorf("app: idempotency lookup: %v: %w", err, models.ErrIOFailure)
	}
	if ok {
		if previous.ItemID != itemID {
			return nil, fmt.Errorf("app: idempotency key already used for item %d: %w", previous.ItemID, models.ErrInvalidInput)
		}
		return previous, nil
	}

	receipt, err := app.purchase(ctx, buyer, itemID)
	if err != nil {
		return nil, err
	}
	if err := app.receipts.Put(context.WithoutCancel(ctx), key, receipt); err != nil {
		// The purchase is committed; losing the key only weakens retry protection.
		app.log.Sugar().Errorf("Failed to store receipt %s under idempotency key %s: %s", receipt.ID, key, err)
	}
	return receipt, nil
}

func (app *App) purchase(ctx context.Context, buyer string, itemID int64) (*models.Receipt, error) {
	var receipt *models.Receipt

	err := app.catalog.WithItem(ctx, itemID, func(item models.Item) error {
		if buyer == item.Owner {
			return fmt.Errorf("app: %q cannot buy own item %d: %w", buyer, item.ID, models.ErrInvalidOperation)
		}

		// The item is delisted before any coins move. The two writes are
		// separate snapshots, so a crash between them leaves the item
		// delisted with both balances untouched.
		if app.opts.SingleUnit {
			if err := app.catalog.Remove(ctx, item.ID); err != nil {
				return err
			}
		}

		if err := app.ledger.Transfer(ctx, buyer, item.Owner, item.Price); err != nil {
			if app.opts.SingleUnit {
				if restoreErr := app.catalog.Restore(context.WithoutCancel(ctx), item); restoreErr != nil {
					app.log.Sugar().Errorf("Failed to relist item %d after failed purchase: %s", item.ID, restoreErr)
					return errors.Join(err, restoreErr)
				}
			}
			return err
		}

		receipt = &models.Receipt{
			ID:        uuid.New(),
			ItemID:    item.ID,
			Buyer:     buyer,
			Seller:    item.Owner,
			Amount:    item.Price,
			Timestamp: app.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	app.log.Sugar().Infof("Item %d bought by %s from %s for %d", receipt.ItemID, receipt.Buyer, receipt.Seller, receipt.Amount)
	if err := app.publisher.PublishReceipt(receipt); err != nil {
		app.log.Sugar().Errorf("Failed to publish receipt %s: %s", receipt.ID, err)
	}
	return receipt, nil
}
