package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
	"github.com/devrev/pairdb/storage-rent/internal/util/workerpool"
	"go.uber.org/zap"
)

// PayoutSink delivers committed payouts to the currency-transfer system
type PayoutSink interface {
	Publish(ctx context.Context, payout *model.Payout) error
	Close() error
}

// SaramaSink publishes payouts to a Kafka topic, keyed by destination
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaSink connects a synchronous producer to brokers
func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout producer: %w", err)
	}
	return NewSaramaSinkWithProducer(producer, topic), nil
}

// NewSaramaSinkWithProducer wraps an existing producer
func NewSaramaSinkWithProducer(producer sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: producer, topic: topic}
}

// Publish sends one payout and waits for the broker acknowledgement
func (s *SaramaSink) Publish(ctx context.Context, payout *model.Payout) error {
	value, err := model.EncodePayout(payout)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(payout.Destination),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("payout_seq"), Value: []byte(fmt.Sprintf("%d", payout.Sequence))},
		},
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish payout %d: %w", payout.Sequence, err)
	}
	return nil
}

// Close closes the producer
func (s *SaramaSink) Close() error {
	return s.producer.Close()
}

// LogSink writes payouts to the log. It stands in for a transfer system
// in development setups.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the payout
func (s *LogSink) Publish(ctx context.Context, payout *model.Payout) error {
	s.logger.Info("Payout",
		zap.Uint64("seq", payout.Sequence),
		zap.String("destination", payout.Destination),
		zap.Stringer("amount", payout.Amount),
		zap.String("reason", string(payout.Reason)),
		zap.String("request_id", payout.RequestID))
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error {
	return nil
}

// PayoutConfig holds payout broadcaster configuration
type PayoutConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// PayoutBroadcaster delivers payouts from the outbox to a sink and removes
// them once acknowledged. Undelivered payouts stay in the outbox and are
// retried on the next pass, so delivery is at least once.
type PayoutBroadcaster struct {
	config  *PayoutConfig
	runtime *Runtime
	sink    PayoutSink
	pool    *workerpool.WorkerPool
	metrics *metrics.Metrics
	logger  *zap.Logger
	wake    chan struct{}
	mu      sync.Mutex // serializes replay passes
}

// NewPayoutBroadcaster creates a broadcaster and registers it with the runtime
func NewPayoutBroadcaster(
	cfg *PayoutConfig,
	runtime *Runtime,
	sink PayoutSink,
	pool *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PayoutBroadcaster {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	b := &PayoutBroadcaster{
		config:  cfg,
		runtime: runtime,
		sink:    sink,
		pool:    pool,
		metrics: m,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
	runtime.SetPayoutNotifier(b.Notify)
	return b
}

// Notify requests a replay pass without blocking
func (b *PayoutBroadcaster) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run replays the outbox on every notification and flush interval until
// ctx is done
func (b *PayoutBroadcaster) Run(ctx context.Context) error {
	b.logger.Info("Payout broadcaster started",
		zap.Int("batch_size", b.config.BatchSize),
		zap.Duration("flush_interval", b.config.FlushInterval))

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Payout broadcaster stopped")
			return nil
		case <-ticker.C:
		case <-b.wake:
		}

		if _, err := b.ReplayOnce(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("Payout replay failed", zap.Error(err))
		}
	}
}

// ReplayOnce publishes up to one batch of pending payouts and returns how
// many were delivered
func (b *PayoutBroadcaster) ReplayOnce(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, total, err := b.scan(b.config.BatchSize)
	if err != nil {
		return 0, err
	}
	b.metrics.UpdatePendingPayouts(total)
	if len(pending) == 0 {
		return 0, nil
	}

	tasks := make([]workerpool.Task, len(pending))
	for i, p := range pending {
		p := p
		tasks[i] = workerpool.Task{
			ID: fmt.Sprintf("payout-%d", p.Sequence),
			Fn: func(ctx context.Context) error {
				start := time.Now()
				if err := b.sink.Publish(ctx, p); err != nil {
					return err
				}
				b.metrics.RecordPayoutPublished(time.Since(start).Seconds())
				return nil
			},
		}
	}

	errs := b.pool.Run(ctx, tasks)

	var acked []uint64
	for i, err := range errs {
		if err != nil {
			b.metrics.RecordPayoutFailed()
			b.logger.Warn("Payout delivery failed, will retry",
				zap.Uint64("seq", pending[i].Sequence),
				zap.String("destination", pending[i].Destination),
				zap.Error(err))
			continue
		}
		acked = append(acked, pending[i].Sequence)
	}

	if len(acked) > 0 {
		err := b.runtime.Update(ctx, func(txn hoststore.Txn) error {
			for _, seq := range acked {
				if err := txn.Delete(model.PayoutKey(seq)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to acknowledge payouts: %w", err)
		}
	}

	b.metrics.UpdatePendingPayouts(total - len(acked))
	return len(acked), nil
}

// Pending returns the number of payouts waiting in the outbox
func (b *PayoutBroadcaster) Pending() (int, error) {
	_, total, err := b.scan(0)
	return total, err
}

// scan reads up to limit payouts (all when limit is 0) and counts the backlog
func (b *PayoutBroadcaster) scan(limit int) ([]*model.Payout, int, error) {
	txn, err := b.runtime.Store().Begin()
	if err != nil {
		return nil, 0, err
	}
	defer txn.Discard()

	var pending []*model.Payout
	total := 0
	err = txn.Scan([]byte(model.PayoutKeyPrefix), func(key, value []byte) error {
		total++
		if limit > 0 && len(pending) >= limit {
			return nil
		}
		p, err := model.DecodePayout(value)
		if err != nil {
			b.logger.Error("Skipping undecodable payout",
				zap.ByteString("key", key),
				zap.Error(err))
			return nil
		}
		pending = append(pending, p)
		return nil
	})
	return pending, total, err
}

// Close closes the sink
func (b *PayoutBroadcaster) Close() error {
	return b.sink.Close()
}
