package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"fintrack/internal/events"
	"fintrack/internal/logger"
	"fintrack/internal/models"
)

// Key identifies the ledger a budget is reconciled against.
type Key struct {
	UserID     string
	CategoryID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.CategoryID
}

// Service runs reconciliations inside database transactions and serializes
// them per Key, both within this process and, on Postgres, across processes.
type Service struct {
	db        *gorm.DB
	publisher events.Publisher
	locks     *keyLock
}

// NewService returns a Service. A nil publisher drops events.
func NewService(db *gorm.DB, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{db: db, publisher: publisher, locks: newKeyLock()}
}

// Apply runs mutate and then reconciles every key in one transaction. Either
// the mutation and all recomputed totals commit together or nothing does.
// mutate must use the transaction it is given; it may be nil.
//
// Keys are de-duplicated, empty ones are ignored, and locks are taken in a
// fixed order so concurrent callers with overlapping keys cannot deadlock.
// Notification events are published only after a successful commit.
func (s *Service) Apply(ctx context.Context, keys []Key, mutate func(tx *gorm.DB) error) error {
	keys = normalizeKeys(keys)

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	unlock := s.locks.Lock(names...)
	defer unlock()

	var outbox []events.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, names); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(tx); err != nil {
				return err
			}
		}

		r := NewGorm(tx, &outbox)
		for _, k := range keys {
			if err := r.Reconcile(ctx, k.UserID, k.CategoryID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, outbox)
	return nil
}

// Reconcile recomputes the budgets of one (user, category) pair.
func (s *Service) Reconcile(ctx context.Context, userID, categoryID string) error {
	return s.Apply(ctx, []Key{{UserID: userID, CategoryID: categoryID}}, nil)
}

// ReconcileAll recomputes every (user, category) pair that has a budget,
// running at most concurrency pairs at a time. It returns the number of
// pairs reconciled, which on error counts the pairs that committed before
// the failure.
func (s *Service) ReconcileAll(ctx context.Context, concurrency int) (int, error) {
	var keys []Key
	err := s.db.WithContext(ctx).
		Model(&models.Budget{}).
		Distinct("user_id", "category_id").
		Order("user_id").Order("category_id").
		Find(&keys).Error
	if err != nil {
		return 0, err
	}

	if concurrency < 1 {
		concurrency = 1
	}
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			if err := s.Reconcile(gctx, k.UserID, k.CategoryID); err != nil {
				return fmt.Errorf("reconcile %s: %w", k, err)
			}
			done.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(done.Load()), err
}

func (s *Service) publish(ctx context.Context, outbox []events.Event) {
	for _, e := range outbox {
		if err := s.publisher.Publish(ctx, e); err != nil {
			logger.Get().Errorw("Failed to publish budget event",
				"type", e.Type,
				"budget_id", e.BudgetID,
				"error", err,
			)
		}
	}
}

// advisoryLock takes a transaction-scoped Postgres advisory lock per name.
// Other dialects rely on the in-process lock alone.
func advisoryLock(tx *gorm.DB, names []string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	for _, name := range names {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", name).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeKeys(keys []Key) []Key {
	out := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if k.UserID == "" || k.CategoryID == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
