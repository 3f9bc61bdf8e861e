// Package ledger owns the coin balances of the marketplace accounts.
// Balances live in memory and every mutation is written ahead to the
// persistence layer: the new balances are made durable first and only then
// become visible, so a failed write leaves both copies at their old values.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pkg/lock"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/storage"
)

// snapshot is the persisted form of the ledger.
type snapshot struct {
	Accounts map[string]int64 `json:"accounts"`
}

// Ledger is the AccountLedger. Mutations of one account are serialized by a
// per-account lock; transfers between disjoint pairs run independently up
// to the durability step.
type Ledger struct {
	mu       sync.RWMutex // guards balances
	balances map[string]int64

	commit   *lock.Gate // one snapshot write at a time
	locks    *lock.Keyed
	db       storage.Storage
	log      *logger.Logger
}

// New restores the ledger from its latest snapshot. An absent snapshot yields
// an empty ledger; a corrupt one is returned as an error and the caller must
// not start.
func New(ctx context.Context, db storage.Storage, l *logger.Logger, lockTimeout time.Duration) (*Ledger, error) {
	ledger := &Ledger{
		balances: make(map[string]int64),
		commit:   lock.NewGate(lockTimeout),
		locks:    lock.NewKeyed(lockTimeout),
		db:       db,
		log:      l,
	}

	data, err := db.LoadSnapshot(ctx, storage.KindAccounts)
	if errors.Is(err, storage.ErrAbsent) {
		l.Info("no accounts snapshot, starting with an empty ledger")
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ledger: decode snapshot: %v: %w", err, models.ErrIOCorrupt)
	}
	for user, coins := range snap.Accounts {
		if coins < 0 {
			return nil, fmt.Errorf("ledger: account %q has negative balance %d: %w", user, coins, models.ErrIOCorrupt)
		}
		ledger.balances[user] = coins
	}
	return ledger, nil
}

// GetBalance returns the current balance of user.
func (ledger *Ledger) GetBalance(ctx context.Context, user string) (int64, error) {
	ledger.mu.RLock()
	defer ledger.mu.RUnlock()

	coins, ok := ledger.balances[user]
	if !ok {
		return 0, fmt.Errorf("ledger: account %q: %w", user, models.ErrNotFound)
	}
	return coins, nil
}

// Accounts returns a point-in-time copy of every account, sorted by username.
func (ledger *Ledger) Accounts(ctx context.Context) []models.Account {
	ledger.mu.RLock()
	defer ledger.mu.RUnlock()

	accounts := make([]models.Account, 0, len(ledger.balances))
	for user, coins := range ledger.balances {
		accounts = append(accounts, models.Account{Username: user, Coins: coins})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts
}

// CreateAccount opens an account for user with initialCoins.
func (ledger *Ledger) CreateAccount(ctx context.Context, user string, initialCoins int64) error {
	if strings.TrimSpace(user) == "" {
		return fmt.Errorf("ledger: empty username: %w", models.ErrInvalidInput)
	}
	if initialCoins < 0 {
		return fmt.Errorf("ledger: negative initial balance %d: %w", initialCoins, models.ErrInvalidInput)
	}

	release, err := ledger.locks.Acquire(ctx, user)
	if err != nil {
		return err
	}
	defer release()

	if _, err := ledger.GetBalance(ctx, user); err == nil {
		return fmt.Errorf("ledger: account %q: %w", user, models.ErrAlreadyExists)
	}

	return ledger.write(ctx, map[string]int64{user: initialCoins})
}

// Credit adds amount to the balance of user. It is an administrative grant
// and, unlike Transfer, changes the total number of coins.
func (ledger *Ledger) Credit(ctx context.Context, user string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: credit amount %d: %w", amount, models.ErrInvalidInput)
	}

	release, err := ledger.locks.Acquire(ctx, user)
	if err != nil {
		return err
	}
	defer release()

	coins, err := ledger.GetBalance(ctx, user)
	if err != nil {
		return err
	}
	if coins > math.MaxInt64-amount {
		return fmt.Errorf("ledger: crediting %d to %q overflows its balance %d: %w", amount, user, coins, models.ErrInvalidInput)
	}
	return ledger.write(ctx, map[string]int64{user: coins + amount})
}

// Transfer moves amount coins from one account to another. Both accounts
// are locked in a fixed order; either both balances change or neither does.
func (ledger *Ledger) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: transfer amount %d: %w", amount, models.ErrInvalidInput)
	}
	if from == to {
		return fmt.Errorf("ledger: transfer from %q to itself: %w", from, models.ErrInvalidInput)
	}

	release, err := ledger.locks.Acquire(ctx, from, to)
	if err != nil {
		return err
	}
	defer release()

	fromCoins, err := ledger.GetBalance(ctx, from)
	if err != nil {
		return err
	}
	toCoins, err := ledger.GetBalance(ctx, to)
	if err != nil {
		return err
	}
	if fromCoins < amount {
		return fmt.Errorf("ledger: %q has %d, needs %d: %w", from, fromCoins, amount, models.ErrInsufficientFunds)
	}

	if toCoins > math.MaxInt64-amount {
		return fmt.Errorf("ledger: %d more coins overflow the balance %d of %q: %w", amount, toCoins, to, models.ErrInvalidInput)
	}

	return ledger.write(ctx, map[string]int64{
		from: fromCoins - amount,
		to:   toCoins + amount,
	})
}

// write persists the ledger with changes applied and, on success, applies
// them in memory. Callers hold the locks of every account in changes.
// Waiting for a preceding write is bounded by the lock timeout. Once started,
// the write is bounded by storage.WriteTimeout and a cancelled ctx does not
// abort it.
func (ledger *Ledger) write(ctx context.Context, changes map[string]int64) error {
	leave, err := ledger.commit.Enter(ctx)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer leave()

	ledger.mu.RLock()
	snap := snapshot{Accounts: make(map[string]int64, len(ledger.balances)+len(changes))}
	for user, coins := range ledger.balances {
		snap.Accounts[user] = coins
	}
	ledger.mu.RUnlock()
	for user, coins := range changes {
		snap.Accounts[user] = coins
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ledger: encode snapshot: %v: %w", err, models.ErrIOFailure)
	}

	writeCtx, cancel := storage.WriteContext(ctx)
	defer cancel()
	if err := ledger.db.SaveSnapshot(writeCtx, storage.KindAccounts, data); err != nil {
		ledger.log.Sugar().Errorf("Failed to persist accounts snapshot: %s", err)
		if !errors.Is(err, models.ErrIOFailure) {
			err = fmt.Errorf("%v: %w", err, models.ErrIOFailure)
		}
		return fmt.Errorf("ledger: persist: %w", err)
	}

	ledger.mu.Lock()
	for user, coins := range changes {
		ledger.balances[user] = coins
	}
	ledger.mu.Unlock()
	return nil
}
