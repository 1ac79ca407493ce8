package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the part of *nats.Conn the bridge uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url and keeps reconnecting for as long as the process
// runs.
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("sparkgen"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Bridge forwards broker events to NATS as JSON. An event of type
// "generation.completed" goes to "<prefix>.generation.completed".
type Bridge struct {
	broker *Broker
	pub    Publisher
	prefix string
	logger *zap.Logger
}

func NewBridge(broker *Broker, pub Publisher, prefix string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{broker: broker, pub: pub, prefix: prefix, logger: logger}
}

func (b *Bridge) Subject(t EventType) string {
	if b.prefix == "" {
		return string(t)
	}
	return b.prefix + "." + string(t)
}

// Run forwards events until ctx is done. Publish failures are logged and the
// event is dropped.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.broker.Subscribe()
	defer b.broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			b.forward(e)
		}
	}
}

func (b *Bridge) forward(e *Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	subject := b.Subject(e.Type)
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
