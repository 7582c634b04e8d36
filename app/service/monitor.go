package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/entity"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
)

const (
	DefaultMonitorTimeout     = 300 * time.Second
	DefaultMonitorInterval    = 5 * time.Second
	DefaultMonitorMaxAttempts = 60
)

type MonitorOptions struct {
	Timeout     time.Duration
	Interval    time.Duration
	MaxAttempts int
}

func (s *PaymentService) monitorDefaults(opts MonitorOptions) MonitorOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = s.paymentsCfg.MonitorTimeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMonitorTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = s.paymentsCfg.MonitorInterval
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitorInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.paymentsCfg.MonitorMaxAttempts
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMonitorMaxAttempts
	}
	return opts
}

// Monitor polls a payment until it reaches a terminal state, the attempts run out, or the
// timeout elapses. Exhaustion and timeout move the payment to TIMEOUT. Cancelling ctx stops
// polling without writing anything.
func (s *PaymentService) Monitor(ctx context.Context, id uint64, opts MonitorOptions) (*entity.PaymentTransaction, error) {
	opts = s.monitorDefaults(opts)

	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	logger := s.logger.WithFields(logrus.Fields{
		"transaction_id": payment.ID,
		"md5_hash":       payment.MD5Hash,
	})
	logger.WithFields(logrus.Fields{
		"timeout":      opts.Timeout.String(),
		"interval":     opts.Interval.String(),
		"max_attempts": opts.MaxAttempts,
	}).Info("Payment monitoring started")

	pollCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	attempts := 0
poll:
	for attempts < opts.MaxAttempts {
		attempts++

		current, err := s.refresh(pollCtx, payment)
		if current != nil {
			payment = current
		}
		if err != nil {
			if ctx.Err() != nil {
				return payment, ctx.Err()
			}
			if pollCtx.Err() != nil {
				break poll
			}
			logger.WithError(err).WithField("attempt", attempts).Warn("Status check failed while monitoring")
		}
		if payment.Status.Terminal() {
			logger.WithFields(logrus.Fields{"status": payment.Status, "attempts": attempts}).Info("Payment monitoring finished")
			return payment, nil
		}
		if attempts >= opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return payment, ctx.Err()
		case <-pollCtx.Done():
			break poll
		case <-ticker.C:
		}
	}

	if ctx.Err() != nil {
		return payment, ctx.Err()
	}

	reason := fmt.Sprintf("Payment timed out after %d checks", attempts)
	if pollCtx.Err() != nil {
		reason = fmt.Sprintf("Payment timed out after %s", opts.Timeout)
	}
	logger.WithField("attempts", attempts).Info("Payment monitoring timed out")

	return s.timeout(ctx, payment, reason)
}

type paymentMonitor interface {
	Monitor(ctx context.Context, id uint64, opts MonitorOptions) (*entity.PaymentTransaction, error)
}

type monitorHandle struct {
	cancel context.CancelFunc
}

// MonitorManager runs background monitors, at most one per transaction.
type MonitorManager struct {
	monitor paymentMonitor
	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	running map[uint64]*monitorHandle
	closed  bool
	wg      sync.WaitGroup

	logger logrus.FieldLogger
}

func NewMonitorManager(monitor paymentMonitor) *MonitorManager {
	baseCtx, stop := context.WithCancel(context.Background())
	return &MonitorManager{
		monitor: monitor,
		baseCtx: baseCtx,
		stop:    stop,
		running: make(map[uint64]*monitorHandle),
		logger:  factory.NewModuleLogger("payment-monitor"),
	}
}

// Start launches a monitor for id. It returns false when one is already running or the
// manager has been shut down.
func (m *MonitorManager) Start(id uint64, opts MonitorOptions) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if _, ok := m.running[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	handle := &monitorHandle{cancel: cancel}
	m.running[id] = handle
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.release(id, handle)

		payment, err := m.monitor.Monitor(ctx, id, opts)
		logger := m.logger.WithField("transaction_id", id)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Background monitor failed")
			return
		}
		if payment != nil {
			logger.WithField("status", payment.Status).Debug("Background monitor exited")
		}
	}()

	return true
}

func (m *MonitorManager) Cancel(id uint64) bool {
	m.mu.Lock()
	handle, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()

	if ok {
		handle.cancel()
	}
	return ok
}

func (m *MonitorManager) Running(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Shutdown cancels every monitor and waits for them to exit or for ctx to end.
func (m *MonitorManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MonitorManager) release(id uint64, handle *monitorHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] == handle {
		delete(m.running, id)
	}
	handle.cancel()
}
