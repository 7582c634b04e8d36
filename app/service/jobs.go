package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/provider"
)

// RunReconcileBatch refreshes stale PENDING payments in bulk chunks.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	now := s.now()
	before := now.Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.paymentRepo.ListPendingForReconcile(ctx, before, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for start := 0; start < len(items); start += provider.MaxBulkHashes {
		end := start + provider.MaxBulkHashes
		if end > len(items) {
			end = len(items)
		}

		byHash := make(map[string]*entity.PaymentTransaction, end-start)
		for _, payment := range items[start:end] {
			if payment == nil || payment.Status.Terminal() {
				continue
			}
			byHash[payment.MD5Hash] = payment
		}

		if err := s.refreshMany(ctx, byHash); err != nil {
			s.logger.WithError(err).WithField("chunk_size", len(byHash)).Warn("Reconcile chunk failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunExpirePendingBatch times out payments left PENDING past the configured window.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.paymentsCfg.PendingTimeout)
	items, err := s.paymentRepo.ListExpiredPending(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("Payment timed out after %s", s.paymentsCfg.PendingTimeout)
	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.Status.Terminal() {
			continue
		}
		if _, err := s.timeout(ctx, payment, reason); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunRetryHandOffBatch applies PAID payments whose subscription update failed earlier.
// Payments paid within the reconcile stale window are left to the in-flight hand-off.
func (s *PaymentService) RunRetryHandOffBatch(ctx context.Context) error {
	if s.paidHandler == nil {
		return nil
	}

	cutoff := s.now().Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.paymentRepo.ListPaidUnapplied(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.Status != entity.PaymentStatusPaid || payment.SubscriptionAppliedAt != nil {
			continue
		}
		if err := s.handOff(ctx, payment); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"transaction_id": payment.ID,
				"user_id":        payment.UserID,
			}).Warn("Subscription hand-off retry failed")
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		s.logger.WithField("transaction_id", payment.ID).Info("Subscription hand-off retried")
	}

	return firstErr
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
