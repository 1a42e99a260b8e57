package placement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/metrics"
)

// BonusSet holds the users waiting for their subscriber stack bonus.
// Every operation, including the sweep, runs under one mutex, so a removal
// either happens before a sweep grants or after it already did.
type BonusSet struct {
	mu      sync.Mutex
	pending map[string]*user.User
}

// NewBonusSet returns an empty set.
func NewBonusSet() *BonusSet {
	return &BonusSet{pending: make(map[string]*user.User)}
}

// Add enrols u.
func (s *BonusSet) Add(u *user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[u.ID] = u
	metrics.BonusPending.Set(float64(len(s.pending)))
}

// Remove cancels a pending bonus. It reports whether the user was enrolled.
func (s *BonusSet) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[userID]
	delete(s.pending, userID)
	metrics.BonusPending.Set(float64(len(s.pending)))
	return ok
}

// Contains reports whether the user is enrolled.
func (s *BonusSet) Contains(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[userID]
	return ok
}

// Len returns the number of enrolled users.
func (s *BonusSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// BonusGrant applies the bonus to one user.
type BonusGrant func(u *user.User) error

// Sweep grants every user whose undo window has elapsed at now and removes them.
// A user whose grant fails stays enrolled for the next sweep; the failure is
// returned in errs and does not stop the sweep.
func (s *BonusSet) Sweep(now time.Time, grant BonusGrant) (granted []*user.User, errs []error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.pending {
		if !u.UndoWindowPassed(now) {
			continue
		}
		if err := safeGrant(grant, u); err != nil {
			errs = append(errs, fmt.Errorf("grant bonus to %s: %w", id, err))
			continue
		}
		delete(s.pending, id)
		granted = append(granted, u)
	}

	metrics.BonusPending.Set(float64(len(s.pending)))
	return granted, errs
}

func safeGrant(grant BonusGrant, u *user.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return grant(u)
}

// BonusScheduler converts pending bonuses into stacked charges on a fixed period.
type BonusScheduler struct {
	set    *BonusSet
	tick   time.Duration
	now    func() time.Time
	grant  BonusGrant
	notify func(u *user.User)
	logger zerolog.Logger
}

// NewBonusScheduler returns a scheduler sweeping set every tick.
// notify runs after the sweep for every granted user, outside the set lock.
func NewBonusScheduler(set *BonusSet, tick time.Duration, now func() time.Time, grant BonusGrant, notify func(u *user.User)) *BonusScheduler {
	return &BonusScheduler{
		set:    set,
		tick:   tick,
		now:    now,
		grant:  grant,
		notify: notify,
		logger: logx.Component("bonus_scheduler"),
	}
}

// Run sweeps until ctx is cancelled.
func (b *BonusScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	b.logger.Info().Dur("tick", b.tick).Msg("Bonus scheduler started.")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bonus scheduler stopped.")
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick runs one sweep and returns how many users were granted.
func (b *BonusScheduler) Tick() int {
	granted, errs := b.set.Sweep(b.now(), b.grant)

	for _, err := range errs {
		b.logger.Error().Err(err).Msg("Bonus grant failed; will retry next tick.")
	}

	for _, u := range granted {
		metrics.BonusGrants.Inc()
		if b.notify != nil {
			b.notify(u)
		}
	}

	return len(granted)
}
