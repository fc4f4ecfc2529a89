// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/matterflow/pkg/channels/gochannel"
	"github.com/dukex/matterflow/pkg/channels/kafka"
	"github.com/dukex/matterflow/pkg/eventbus"
)

const serviceName = "matterflow"

// NewEventBus builds the event bus for provider ("memory" or "kafka"). The
// publisher is wrapped in a circuit breaker.
func NewEventBus(provider, kafkaBrokers string, breaker eventbus.BreakerConfig, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	wlogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case "", "memory", "gochannel":
		pub, sub, err = gochannel.CreateChannel(wlogger)
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wlogger, kafka.ParseBrokers(kafkaBrokers), serviceName)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(eventbus.NewBreakerPublisher(pub, breaker, logger), sub, logger), nil
}
