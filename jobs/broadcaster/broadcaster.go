// Package broadcaster relays the event outbox to Kafka.
package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	exitwal "spotex/infra/wal/exit"
)

// Outbox is the part of the exit WAL the relay drives.
type Outbox interface {
	ScanPending(limit int, fn func(rec exitwal.ExitRecord) error) error
	UpdateState(rec exitwal.ExitRecord, state exitwal.ExitState) error
	Delete(seq uint64) error
}

type Config struct {
	Topic       string
	Interval    time.Duration
	Batch       int
	MaxFailures uint32
	OpenTimeout time.Duration
}

type Broadcaster struct {
	outbox   Outbox
	producer sarama.SyncProducer
	breaker  *gobreaker.CircuitBreaker[int64]
	cfg      Config
	relayed  *prometheus.CounterVec
	log      *zap.Logger
}

var errRoundStopped = errors.New("broadcaster: round stopped")

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

func New(outbox Outbox, producer sarama.SyncProducer, cfg Config, relayed *prometheus.CounterVec, log *zap.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 512
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	log = log.Named("broadcaster")
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		cfg:      cfg,
		relayed:  relayed,
		log:      log,
		breaker: gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
			Name:    "kafka-events",
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					zap.String("name", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run relays until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.String("topic", b.cfg.Topic))
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.RelayOnce(); err != nil {
				b.log.Debug("relay round stopped", zap.Error(err))
			}
		}
	}
}

// RelayOnce sends pending records in order and stops at the first failure so
// per-key ordering survives retries. SENT records left by a crash are resent.
func (b *Broadcaster) RelayOnce() (int, error) {
	sent := 0
	var roundErr error
	err := b.outbox.ScanPending(b.cfg.Batch, func(rec exitwal.ExitRecord) error {
		if err := b.outbox.UpdateState(rec, exitwal.StateSent); err != nil {
			return err
		}

		_, err := b.breaker.Execute(func() (int64, error) {
			_, offset, err := b.producer.SendMessage(&sarama.ProducerMessage{
				Topic: b.cfg.Topic,
				Key:   sarama.StringEncoder(rec.Key),
				Value: sarama.ByteEncoder(rec.Payload),
			})
			return offset, err
		})
		if err != nil {
			b.count("failed")
			if uerr := b.outbox.UpdateState(rec, exitwal.StateFailed); uerr != nil {
				b.log.Error("mark failed", zap.Uint64("seq", rec.Seq), zap.Error(uerr))
			}
			roundErr = fmt.Errorf("send %d: %w", rec.Seq, err)
			return errRoundStopped
		}

		if err := b.outbox.Delete(rec.Seq); err != nil {
			return err
		}
		b.count("ok")
		sent++
		return nil
	})
	if errors.Is(err, errRoundStopped) {
		return sent, roundErr
	}
	return sent, err
}

func (b *Broadcaster) count(result string) {
	if b.relayed != nil {
		b.relayed.WithLabelValues(result).Inc()
	}
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
