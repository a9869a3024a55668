package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/ds124wfegd/appointly/pkg/sms"
	"github.com/sirupsen/logrus"
)

type DeliveryConfig struct {
	Timeout   time.Duration
	PollDelay time.Duration
}

type deliveryService struct {
	provider sms.Provider
	attempts *database.AttemptRepository
	cfg      DeliveryConfig
	now      Clock
}

func NewDeliveryService(provider sms.Provider, attempts *database.AttemptRepository, cfg DeliveryConfig, now Clock) DeliveryService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollDelay < 0 {
		cfg.PollDelay = 0
	}
	if now == nil {
		now = time.Now
	}
	return &deliveryService{provider: provider, attempts: attempts, cfg: cfg, now: now}
}

// MapProviderStatus folds the provider's message states onto the four we track.
func MapProviderStatus(status string) entity.DeliveryStatus {
	switch status {
	case "delivered":
		return entity.DeliveryDelivered
	case "sent":
		return entity.DeliverySent
	case "failed", "undelivered", "canceled":
		return entity.DeliveryFailed
	default:
		return entity.DeliveryPending
	}
}

func (s *deliveryService) RefreshStatus(ctx context.Context, providerMessageID string) (entity.DeliveryStatus, error) {
	msg, err := s.fetch(ctx, providerMessageID)
	if err != nil {
		return "", err
	}

	status := MapProviderStatus(msg.Status)
	metrics.DeliveryRefreshed.WithLabelValues(string(status)).Inc()

	attempt, err := s.attempts.GetByProviderID(ctx, providerMessageID)
	if err != nil {
		if errors.Is(err, entity.ErrAttemptNotFound) {
			// sent outside this service; nothing to reconcile
			return status, nil
		}
		return "", err
	}

	if attempt.Status == status && !costChanged(attempt.Cost, msg.Price) {
		return status, nil
	}

	previous := attempt.Status
	attempt.Status = status
	if msg.Price != nil {
		attempt.Cost = msg.Price
	}
	if status == entity.DeliveryFailed && msg.ErrorText != "" {
		text := msg.ErrorText
		if msg.ErrorCode != 0 {
			text = fmt.Sprintf("%d: %s", msg.ErrorCode, msg.ErrorText)
		}
		attempt.Error = &text
	}
	attempt.UpdatedAt = s.now().UTC()

	if err := s.attempts.UpdateStatus(ctx, attempt, previous); err != nil {
		return "", fmt.Errorf("update attempt %s: %w", attempt.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"sid":        providerMessageID,
		"from":       previous,
		"to":         status,
	}).Info("SMS delivery status updated")
	return status, nil
}

func (s *deliveryService) fetch(ctx context.Context, sid string) (*sms.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msg, err := s.provider.Fetch(ctx, sid)
	switch {
	case err == nil && msg != nil:
		return msg, nil
	case errors.Is(err, sms.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", entity.ErrMessageNotFound, sid)
	case err == nil:
		return nil, fmt.Errorf("%w: empty response for %s", entity.ErrProviderUnavailable, sid)
	default:
		return nil, fmt.Errorf("%w: %v", entity.ErrProviderUnavailable, err)
	}
}

func costChanged(stored, fetched *float64) bool {
	if fetched == nil {
		return false
	}
	return stored == nil || *stored != *fetched
}

// RefreshBatch refreshes ids one at a time with a pause between provider calls.
// Each id gets its own outcome; a cancelled ctx marks the rest as unavailable.
func (s *deliveryService) RefreshBatch(ctx context.Context, providerMessageIDs []string) map[string]entity.StatusResult {
	results := make(map[string]entity.StatusResult, len(providerMessageIDs))

	for i, sid := range providerMessageIDs {
		if i > 0 && s.cfg.PollDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.PollDelay):
			}
		}
		if ctx.Err() != nil {
			results[sid] = entity.StatusResult{Error: entity.ErrProviderUnavailable.Error()}
			continue
		}

		status, err := s.RefreshStatus(ctx, sid)
		if err != nil {
			results[sid] = entity.StatusResult{Error: err.Error()}
			continue
		}
		results[sid] = entity.StatusResult{Status: status}
	}
	return results
}

// ReconcilePending refreshes attempts that have not reached a terminal state.
func (s *deliveryService) ReconcilePending(ctx context.Context, limit int) (*entity.ReconcileReport, error) {
	report := &entity.ReconcileReport{}

	var open []*entity.Attempt
	for _, status := range []entity.DeliveryStatus{entity.DeliverySent, entity.DeliveryPending} {
		attempts, err := s.attempts.ListByStatus(ctx, status)
		if err != nil {
			return report, fmt.Errorf("list %s attempts: %w", status, err)
		}
		open = append(open, attempts...)
	}

	for i, a := range open {
		if limit > 0 && report.Checked >= limit {
			break
		}
		if a.ProviderMessageID == nil || *a.ProviderMessageID == "" {
			continue
		}
		if i > 0 && s.cfg.PollDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.PollDelay):
			}
		}

		report.Checked++
		status, err := s.RefreshStatus(ctx, *a.ProviderMessageID)
		switch {
		case errors.Is(err, entity.ErrMessageNotFound):
			report.NotFound++
		case err != nil:
			report.Errors++
			logrus.WithField("attempt_id", a.ID).Warnf("reconcile failed: %v", err)
		case status != a.Status:
			report.Updated++
		}
	}

	logrus.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"updated":   report.Updated,
		"not_found": report.NotFound,
		"errors":    report.Errors,
	}).Info("Delivery reconciliation finished")
	return report, nil
}
