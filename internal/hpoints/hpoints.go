// Package hpoints implements the per-user query budget: a fixed-size
// pool of health points that drains one point per admitted query and
// refills at a steady rate.
package hpoints

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/store"
)

// Service charges and reports health points. All ledger mutation goes
// through store.HealthPoints().Update, which guarantees per-user
// atomicity for the regenerate-then-decrement sequence.
type Service struct {
	store       store.Store
	maxPoints   int
	regenPeriod time.Duration
	devBypass   bool
	devUserHash string
	now         func() time.Time
	log         zerolog.Logger
}

type Options struct {
	MaxPoints    int
	RegenSeconds int

	// DevelopmentMode exempts DevUser from rate limiting.
	DevelopmentMode bool
	DevUser         string

	// Now overrides the clock in tests. nil means time.Now.
	Now func() time.Time
}

func NewService(st store.Store, opts Options, log zerolog.Logger) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       st,
		maxPoints:   opts.MaxPoints,
		regenPeriod: time.Duration(opts.RegenSeconds) * time.Second,
		devBypass:   opts.DevelopmentMode,
		devUserHash: identity.Hash(opts.DevUser),
		now:         now,
		log:         log,
	}
}

// regenerate adds whole points accrued since LastRegenAt, capped at max.
// LastRegenAt only advances when at least one point lands, so fractional
// progress toward the next point is never lost, and a full pool leaves
// the timestamp untouched: time spent at full counts toward the point
// that is consumed next. Filling the pool stamps now so the surplus does
// not carry past the cap.
func (s *Service) regenerate(hp *model.HealthPoints, now time.Time) {
	if hp.Current >= hp.Max {
		return
	}
	elapsed := now.Sub(hp.LastRegenAt)
	if elapsed < s.regenPeriod {
		return
	}
	earned := int(elapsed / s.regenPeriod)
	if hp.Current+earned >= hp.Max {
		hp.Current = hp.Max
		hp.LastRegenAt = now
		return
	}
	hp.Current += earned
	hp.LastRegenAt = hp.LastRegenAt.Add(time.Duration(earned) * s.regenPeriod)
}

// Admit charges one point if available. The point is consumed at
// admission and is not refunded if the query later fails downstream.
func (s *Service) Admit(ctx context.Context, user *model.AnonymousUser) (bool, int, error) {
	now := s.now()

	if s.isDevUser(user) {
		hp, err := s.store.HealthPoints().Update(ctx, user.ID, s.maxPoints, func(hp *model.HealthPoints) error {
			hp.Current = hp.Max
			hp.LastQueryAt = &now
			hp.LastRegenAt = now
			return nil
		})
		if err != nil {
			return false, 0, err
		}
		s.log.Debug().Str("anonymous_id", user.AnonymousID).Msg("development user bypassing rate limit")
		return true, hp.Current, nil
	}

	allowed := false
	hp, err := s.store.HealthPoints().Update(ctx, user.ID, s.maxPoints, func(hp *model.HealthPoints) error {
		s.regenerate(hp, now)
		if hp.Current <= 0 {
			return nil
		}
		hp.Current--
		hp.LastQueryAt = &now
		allowed = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if !allowed {
		s.log.Info().Str("anonymous_id", user.AnonymousID).Msg("query denied, no health points remaining")
	}
	return allowed, hp.Current, nil
}

// Status reports the ledger after applying any pending regeneration.
func (s *Service) Status(ctx context.Context, user *model.AnonymousUser) (model.HealthStatus, error) {
	now := s.now()

	if s.isDevUser(user) {
		return model.HealthStatus{
			Current:  s.maxPoints,
			Max:      s.maxPoints,
			CanQuery: true,
		}, nil
	}

	hp, err := s.store.HealthPoints().Update(ctx, user.ID, s.maxPoints, func(hp *model.HealthPoints) error {
		s.regenerate(hp, now)
		return nil
	})
	if err != nil {
		return model.HealthStatus{}, err
	}

	status := model.HealthStatus{
		Current:  hp.Current,
		Max:      hp.Max,
		CanQuery: hp.Current > 0,
	}
	if hp.Current < hp.Max {
		elapsed := now.Sub(hp.LastRegenAt)
		remaining := s.regenPeriod - (elapsed % s.regenPeriod)
		status.SecondsUntilNextPoint = int(remaining / time.Second)
	}
	return status, nil
}

func (s *Service) isDevUser(user *model.AnonymousUser) bool {
	return s.devBypass && user.UTLNHash == s.devUserHash
}
