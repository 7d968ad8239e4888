package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"

	kafkaGo "github.com/segmentio/kafka-go"
)

const queueCapacity = 4096

// Publisher forwards raw order-book events to a Kafka audit topic. The
// enqueue path never blocks the reconstructor: when the queue is full the
// event is dropped, since the audit stream is best-effort by contract.
type Publisher struct {
	writer *kafkaGo.Writer
	queue  chan domain.OrderBookEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher creates an audit publisher, or nil when no broker is
// configured (auditing is optional).
func NewPublisher(cfg *infra.Config) *Publisher {
	if cfg.Audit.BrokerURL == "" {
		return nil
	}
	return &Publisher{
		writer: &kafkaGo.Writer{
			Addr:         kafkaGo.TCP(cfg.Audit.BrokerURL),
			Topic:        cfg.Audit.Topic,
			Balancer:     &kafkaGo.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        false,
		},
		queue: make(chan domain.OrderBookEvent, queueCapacity),
	}
}

// EnsureTopic creates the audit topic if the broker does not have it yet.
func EnsureTopic(cfg *infra.Config) error {
	conn, err := kafkaGo.Dial("tcp", cfg.Audit.BrokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}

	controllerConn, err := kafkaGo.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             cfg.Audit.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

// Start launches the background sender.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.sendLoop(ctx)
}

// Publish enqueues one event without blocking the caller.
func (p *Publisher) Publish(ev domain.OrderBookEvent) {
	select {
	case p.queue <- ev:
	default: // DROP
	}
}

func (p *Publisher) sendLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			value, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			msg := kafkaGo.Message{
				Key:   []byte(ev.Symbol),
				Value: value,
			}
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				slog.Warn("Audit publish failed",
					slog.String("symbol", ev.Symbol),
					slog.Any("error", err))
			}
		}
	}
}

// Close stops the sender and releases the writer.
func (p *Publisher) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		slog.Warn("Audit writer close failed", slog.Any("error", err))
	}
}
