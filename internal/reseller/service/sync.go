package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
	"github.com/25x8/smm-reseller/internal/reseller/repository"
)

const (
	DefaultSyncLimit = 100
	MaxSyncLimit     = 1000
)

type SyncOptions struct {
	Limit      int
	ProviderID *int64
}

// SyncReport summarises one status sync batch.
type SyncReport struct {
	RunAt     time.Time `json:"runAt"`
	Checked   int       `json:"checked"`
	Updated   int       `json:"updated"`
	Completed int       `json:"completed"`
	Partial   int       `json:"partial"`
	Cancelled int       `json:"cancelled"`
	Failed    int       `json:"failed"`
	Errors    int       `json:"errors"`

	mu sync.Mutex
}

func (r *SyncReport) add(fn func(r *SyncReport)) {
	r.mu.Lock()
	fn(r)
	r.mu.Unlock()
}

// mapProviderStatus translates the provider vocabulary. ok is false for
// statuses we do not recognise.
func mapProviderStatus(s string) (status string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "in progress", "in_progress", "inprogress", "processing":
		return models.OrderProcessing, true
	case "completed", "complete":
		return models.OrderCompleted, true
	case "partial":
		return models.OrderPartial, true
	case "canceled", "cancelled", "refunded":
		return models.OrderCancelled, true
	case "fail", "failed", "error":
		return models.OrderFailed, true
	}
	return "", false
}

// SyncStatuses polls the provider of every submitted, unfinished order in a
// bounded batch and applies the reported outcome. A failed poll is counted
// and never stops the batch.
func (s *OrderService) SyncStatuses(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSyncLimit
	}
	if limit > MaxSyncLimit {
		limit = MaxSyncLimit
	}

	orders, err := s.store.OrdersForStatusSync(ctx, limit, opts.ProviderID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{RunAt: time.Now().UTC()}

	byProvider := make(map[int64][]models.Order)
	var providerIDs []int64
	for _, o := range orders {
		if o.ProviderID == nil {
			report.Errors++
			continue
		}
		if _, ok := byProvider[*o.ProviderID]; !ok {
			providerIDs = append(providerIDs, *o.ProviderID)
		}
		byProvider[*o.ProviderID] = append(byProvider[*o.ProviderID], o)
	}

	var g errgroup.Group
	g.SetLimit(s.fanout)
	for _, providerID := range providerIDs {
		batch := byProvider[providerID]
		g.Go(func() error {
			s.syncProvider(ctx, providerID, batch, report)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("errors", report.Errors).
		Msg("order status sync finished")
	return report, nil
}

func (s *OrderService) syncProvider(ctx context.Context, providerID int64, orders []models.Order, report *SyncReport) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		log.Warn().Err(err).Int64("provider_id", providerID).Msg("load provider for status sync")
		report.add(func(r *SyncReport) { r.Errors += len(orders) })
		return
	}
	adapter := s.adapters(p)

	for i := range orders {
		o := &orders[i]
		st, err := adapter.Status(ctx, *o.ProviderOrderID)
		if err != nil {
			log.Warn().Err(err).Int64("order_id", o.ID).Int64("provider_id", providerID).Msg("poll order status")
			report.add(func(r *SyncReport) { r.Checked++; r.Errors++ })
			continue
		}
		outcome, err := s.applyStatus(ctx, o, st)
		report.add(func(r *SyncReport) {
			r.Checked++
			if err != nil {
				r.Errors++
				return
			}
			if outcome != "" {
				r.Updated++
			}
			switch outcome {
			case models.OrderCompleted:
				r.Completed++
			case models.OrderPartial:
				r.Partial++
			case models.OrderCancelled:
				r.Cancelled++
			case models.OrderFailed:
				r.Failed++
			}
		})
	}
}

// applyStatus writes the polled state and returns the status written, or ""
// when nothing changed.
func (s *OrderService) applyStatus(ctx context.Context, o *models.Order, st *provider.OrderStatus) (string, error) {
	logger := log.With().Int64("order_id", o.ID).Str("provider_status", st.Status).Logger()

	next, ok := mapProviderStatus(st.Status)
	if !ok {
		logger.Debug().Msg("unknown provider status, leaving order unchanged")
		return "", nil
	}

	// An accepted order whose submission was never recorded is still pending.
	promoted := false
	if o.Status == models.OrderPending {
		if err := s.store.MarkOrderSubmitted(ctx, o.ID, *o.ProviderOrderID); err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				return "", nil
			}
			logger.Error().Err(err).Msg("mark accepted order as submitted")
			return "", err
		}
		logger.Info().Msg("recovered submitted order")
		o.Status = models.OrderProcessing
		promoted = true
	}

	var err error
	switch {
	case o.Status == models.OrderRefilling:
		switch next {
		case models.OrderProcessing:
			return "", nil
		default:
			// Any terminal answer ends the refill; the first delivery stands.
			next = models.OrderCompleted
			err = s.store.UpdateOrderProgress(ctx, repository.OrderProgress{
				OrderID: o.ID, From: []string{models.OrderRefilling}, To: next,
				StartCount: st.StartCount, Remains: st.Remains,
			})
		}

	case next == models.OrderProcessing || next == models.OrderCompleted:
		if next == o.Status && !progressChanged(o.StartCount, st.StartCount) && !progressChanged(o.Remains, st.Remains) {
			if promoted {
				return models.OrderProcessing, nil
			}
			return "", nil
		}
		err = s.store.UpdateOrderProgress(ctx, repository.OrderProgress{
			OrderID: o.ID, From: []string{models.OrderProcessing}, To: next,
			StartCount: st.StartCount, Remains: st.Remains,
		})

	default:
		refund := s.refundFor(o, next, st.Remains)
		_, err = s.store.TransitionWithRefund(ctx, repository.RefundRequest{
			OrderID:    o.ID,
			From:       []string{models.OrderProcessing},
			To:         next,
			Amount:     refund,
			Reason:     "provider reported " + next,
			StartCount: st.StartCount,
			Remains:    st.Remains,
		})
		if err == nil {
			logger.Info().Str("status", next).Str("refund", refund.String()).Msg("order settled by provider")
		}
	}

	if errors.Is(err, apperr.ErrInvalidTransition) {
		logger.Debug().Err(err).Msg("order moved since it was loaded")
		return "", nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("apply provider status")
		return "", err
	}
	return next, nil
}

// refundFor is the undelivered share of the charge for partial orders and
// the whole unrefunded charge for cancelled or failed ones.
func (s *OrderService) refundFor(o *models.Order, status string, remains *int64) decimal.Decimal {
	outstanding := o.Charge.Sub(o.Refunded)
	if status != models.OrderPartial {
		return outstanding
	}
	if remains == nil || *remains <= 0 || o.Quantity <= 0 {
		return decimal.Zero
	}
	r := *remains
	if r > o.Quantity {
		r = o.Quantity
	}
	refund := o.Charge.Mul(decimal.NewFromInt(r)).Div(decimal.NewFromInt(o.Quantity)).Round(4)
	return decimal.Min(refund, outstanding)
}

// progressChanged reports whether a polled counter differs from the stored
// one. Counters the provider did not send never count as a change.
func progressChanged(stored, polled *int64) bool {
	if polled == nil {
		return false
	}
	return stored == nil || *stored != *polled
}
