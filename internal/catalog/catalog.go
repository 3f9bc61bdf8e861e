// Package catalog owns the marketplace item records.
// Items are kept in memory in creation order and the whole catalog is
// persisted as one snapshot after each mutation. A mutation becomes visible
// only after its snapshot is durable.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pkg/lock"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/storage"
)

// snapshot is the persisted form of the catalog. LastID survives deletions
// so ids are never handed out twice.
type snapshot struct {
	LastID int64         `json:"last_id"`
	Items  []models.Item `json:"items"`
}

// Catalog is the CatalogStore. Mutations of one item are serialized by a
// per-item lock; reads see a consistent view under the read lock.
type Catalog struct {
	mu     sync.RWMutex // guards items, order and lastID
	items  map[int64]models.Item
	order  []int64
	lastID int64

	commit *lock.Gate // one snapshot write at a time
	locks  *lock.Keyed
	db     storage.Storage
	log    *logger.Logger
	now    func() time.Time
}

// New restores the catalog from its latest snapshot.
func New(ctx context.Context, db storage.Storage, l *logger.Logger, lockTimeout time.Duration) (*Catalog, error) {
	catalog := &Catalog{
		items:  make(map[int64]models.Item),
		commit: lock.NewGate(lockTimeout),
		locks:  lock.NewKeyed(lockTimeout),
		db:     db,
		log:    l,
		now:    func() time.Time { return time.Now().UTC() },
	}

	data, err := db.LoadSnapshot(ctx, storage.KindItems)
	if errors.Is(err, storage.ErrAbsent) {
		l.Info("no items snapshot, starting with an empty catalog")
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("catalog: decode snapshot: %v: %w", err, models.ErrIOCorrupt)
	}
	catalog.lastID = snap.LastID
	for _, item := range snap.Items {
		if item.ID <= 0 || item.ID > snap.LastID || item.Price <= 0 {
			return nil, fmt.Errorf("catalog: invalid item record %d: %w", item.ID, models.ErrIOCorrupt)
		}
		if _, dup := catalog.items[item.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item %d: %w", item.ID, models.ErrIOCorrupt)
		}
		catalog.items[item.ID] = item
		catalog.order = append(catalog.order, item.ID)
	}
	return catalog, nil
}

func itemKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CreateItem validates and lists a new item owned by owner.
func (catalog *Catalog) CreateItem(ctx context.Context, owner, name, description string, price int64, contentRef string) (models.Item, error) {
	owner, name, description, contentRef = strings.TrimSpace(owner), strings.TrimSpace(name), strings.TrimSpace(description), strings.TrimSpace(contentRef)
	switch {
	case owner == "":
		return models.Item{}, fmt.Errorf("catalog: missing owner: %w", models.ErrInvalidInput)
	case name == "" || description == "":
		return models.Item{}, fmt.Errorf("catalog: name and description are required: %w", models.ErrInvalidInput)
	case contentRef == "":
		return models.Item{}, fmt.Errorf("catalog: missing content reference: %w", models.ErrInvalidInput)
	case price <= 0:
		return models.Item{}, fmt.Errorf("catalog: price %d must be positive: %w", price, models.ErrInvalidInput)
	}

	leave, err := catalog.commit.Enter(ctx)
	if err != nil {
		return models.Item{}, fmt.Errorf("catalog: %w", err)
	}
	defer leave()

	catalog.mu.RLock()
	item := models.Item{
		ID:          catalog.lastID + 1,
		Name:        name,
		Description: description,
		Price:       price,
		ContentRef:  contentRef,
		Owner:       owner,
		CreatedAt:   catalog.now(),
	}
	snap := catalog.snapshotLocked()
	catalog.mu.RUnlock()

	snap.LastID = item.ID
	snap.Items = append(snap.Items, item)
	if err := catalog.persist(ctx, snap); err != nil {
		return models.Item{}, err
	}

	catalog.mu.Lock()
	catalog.lastID = item.ID
	catalog.items[item.ID] = item
	catalog.order = append(catalog.order, item.ID)
	catalog.mu.Unlock()

	return item, nil
}

// GetItem returns the item with the given id.
func (catalog *Catalog) GetItem(ctx context.Context, id int64) (models.Item, error) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()

	item, ok := catalog.items[id]
	if !ok {
		return models.Item{}, fmt.Errorf("catalog: item %d: %w", id, models.ErrNotFound)
	}
	return item, nil
}

// ListItems returns every listed item in creation order. The slice is a
// copy taken at one instant; later mutations do not affect it.
func (catalog *Catalog) ListItems(ctx context.Context) []models.Item {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()

	items := make([]models.Item, 0, len(catalog.order))
	for _, id := range catalog.order {
		items = append(items, catalog.items[id])
	}
	return items
}

// DeleteItem removes the item if requester owns it.
func (catalog *Catalog) DeleteItem(ctx context.Context, id int64, requester string) error {
	return catalog.WithItem(ctx, id, func(item models.Item) error {
		if item.Owner != requester {
			return fmt.Errorf("catalog: item %d is owned by another user: %w", id, models.ErrForbidden)
		}
		return catalog.remove(ctx, id)
	})
}

// WithItem runs fn with the item while holding its mutation lock, so no
// other mutation of that item can interleave with fn.
func (catalog *Catalog) WithItem(ctx context.Context, id int64, fn func(models.Item) error) error {
	release, err := catalog.locks.Acquire(ctx, itemKey(id))
	if err != nil {
		return err
	}
	defer release()

	item, err := catalog.GetItem(ctx, id)
	if err != nil {
		return err
	}
	return fn(item)
}

// Remove delists the item unconditionally. Callers must be inside WithItem
// for the same id.
func (catalog *Catalog) Remove(ctx context.Context, id int64) error {
	if _, err := catalog.GetItem(ctx, id); err != nil {
		return err
	}
	return catalog.remove(ctx, id)
}

// Restore relists a removed item with its original id and position.
// Callers must be inside WithItem for the same id.
func (catalog *Catalog) Restore(ctx context.Context, item models.Item) error {
	leave, err := catalog.commit.Enter(ctx)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer leave()

	catalog.mu.RLock()
	if _, exists := catalog.items[item.ID]; exists {
		catalog.mu.RUnlock()
		return fmt.Errorf("catalog: item %d: %w", item.ID, models.ErrAlreadyExists)
	}
	if item.ID <= 0 || item.ID > catalog.lastID {
		catalog.mu.RUnlock()
		return fmt.Errorf("catalog: item %d was never issued: %w", item.ID, models.ErrInvalidInput)
	}
	order := insertOrdered(catalog.order, item.ID)
	snap := snapshot{LastID: catalog.lastID, Items: make([]models.Item, 0, len(order))}
	for _, id := range order {
		if id == item.ID {
			snap.Items = append(snap.Items, item)
			continue
		}
		snap.Items = append(snap.Items, catalog.items[id])
	}
	catalog.mu.RUnlock()

	if err := catalog.persist(ctx, snap); err != nil {
		return err
	}

	catalog.mu.Lock()
	catalog.items[item.ID] = item
	catalog.order = order
	catalog.mu.Unlock()
	return nil
}

func (catalog *Catalog) remove(ctx context.Context, id int64) error {
	leave, err := catalog.commit.Enter(ctx)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer leave()

	catalog.mu.RLock()
	snap := snapshot{LastID: catalog.lastID, Items: make([]models.Item, 0, len(catalog.order))}
	order := make([]int64, 0, len(catalog.order))
	for _, itemID := range catalog.order {
		if itemID == id {
			continue
		}
		order = append(order, itemID)
		snap.Items = append(snap.Items, catalog.items[itemID])
	}
	catalog.mu.RUnlock()

	if err := catalog.persist(ctx, snap); err != nil {
		return err
	}

	catalog.mu.Lock()
	delete(catalog.items, id)
	catalog.order = order
	catalog.mu.Unlock()
	return nil
}

// snapshotLocked copies the current state; callers hold mu.
func (catalog *Catalog) snapshotLocked() snapshot {
	snap := snapshot{LastID: catalog.lastID, Items: make([]models.Item, 0, len(catalog.order)+1)}
	for _, id := range catalog.order {
		snap.Items = append(snap.Items, catalog.items[id])
	}
	return snap
}

func (catalog *Catalog) persist(ctx context.Context, snap snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("catalog: encode snapshot: %v: %w", err, models.ErrIOFailure)
	}
	writeCtx, cancel := storage.WriteContext(ctx)
	defer cancel()
	if err := catalog.db.SaveSnapshot(writeCtx, storage.KindItems, data); err != nil {
		catalog.log.Sugar().Errorf("Failed to persist items snapshot: %s", err)
		if !errors.Is(err, models.ErrIOFailure) {
			err = fmt.Errorf("%v: %w", err, models.ErrIOFailure)
		}
		return fmt.Errorf("catalog: persist: %w", err)
	}
	return nil
}

// insertOrdered returns a copy of ids with id inserted in ascending position.
// Ids are assigned monotonically, so ascending id order is creation order.
func insertOrdered(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	inserted := false
	for _, existing := range ids {
		if !inserted && id < existing {
			out = append(out, id)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, id)
	}
	return out
}
