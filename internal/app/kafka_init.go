package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
	"github.com/vladislavdragonenkov/northwind-orders/internal/messaging/kafka"
)

type eventPublishers struct {
	producer *kafka.Producer
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
}

// initKafkaPublishers returns empty publishers when no brokers are configured.
// The outbox keeps accumulating events until a broker is available.
func initKafkaPublishers(brokers []string, topic string, logger *log.Entry) (eventPublishers, error) {
	if len(brokers) == 0 {
		return eventPublishers{}, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return eventPublishers{}, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return eventPublishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, topic),
		dlq:      kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
