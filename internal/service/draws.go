package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// Draws administers draws and pool campaigns.
type Draws struct {
	store repository.DrawStore
	log   *zap.Logger
}

func NewDraws(store repository.DrawStore, log *zap.Logger) *Draws {
	return &Draws{store: store, log: log.Named("draws")}
}

func validateDraw(d model.Draw) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDraw)
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidDraw)
	}
	if d.PrizeTotal.IsNegative() {
		return fmt.Errorf("%w: prize_total must not be negative", ErrInvalidDraw)
	}
	switch d.Type {
	case model.DrawTypeStandard:
		if d.RangeStart > d.RangeEnd {
			return fmt.Errorf("%w: range_start must not exceed range_end", ErrInvalidDraw)
		}
	case model.DrawTypePool:
		if d.BaseQty < 1 {
			return fmt.Errorf("%w: base_qty must be at least 1", ErrInvalidDraw)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDraw, d.Type)
	}
	return nil
}

// Create validates and stores a new draw.  An active standard draw may
// not share numbers with another active standard draw.
func (s *Draws) Create(ctx context.Context, d model.Draw) (model.Draw, error) {
	if d.Type == "" {
		d.Type = model.DrawTypeStandard
	}
	if err := validateDraw(d); err != nil {
		return model.Draw{}, err
	}
	d.DrawnNumber = nil
	d.SettledAt = nil
	if err := s.store.CreateDraw(ctx, &d); err != nil {
		if errors.Is(err, repository.ErrRangeOverlap) {
			return model.Draw{}, ErrRangeOverlap
		}
		return model.Draw{}, err
	}
	s.log.Info("draw created", zap.Uint64("draw_id", d.ID), zap.String("type", string(d.Type)),
		zap.Int("range_start", d.RangeStart), zap.Int("range_end", d.RangeEnd))
	return d, nil
}

func (s *Draws) Get(ctx context.Context, id uint64) (model.Draw, error) {
	d, err := s.store.GetDraw(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Draw{}, ErrDrawNotFound
	}
	return d, err
}

// SetActive opens or closes a draw for sale.  Settled draws cannot be
// reopened.
func (s *Draws) SetActive(ctx context.Context, id uint64, active bool) error {
	err := s.store.SetDrawActive(ctx, id, active)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrDrawNotFound
	case errors.Is(err, repository.ErrRangeOverlap):
		return ErrRangeOverlap
	case errors.Is(err, repository.ErrAlreadySettled):
		return ErrAlreadySettled
	case err != nil:
		return err
	}
	s.log.Info("draw activity changed", zap.Uint64("draw_id", id), zap.Bool("active", active))
	return nil
}

func (s *Draws) Deactivate(ctx context.Context, id uint64) error {
	return s.SetActive(ctx, id, false)
}
