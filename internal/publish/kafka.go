// Package publish announces inserted articles on a Kafka topic.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/deusflow/cbnews/internal/domain"
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one JSON message per article, keyed by article id so
// updates for the same article land on the same partition.
type Publisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
	now    func() time.Time
}

func NewPublisher(brokers []string, topic string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
	}
	log.Info("publish.kafka.ready", "brokers", brokers, "topic", topic)
	return &Publisher{writer: w, topic: topic, log: log, now: time.Now}
}

// BuildMessage encodes event as a Kafka message.
func BuildMessage(event domain.ArticleEvent, at time.Time) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal article event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ArticleID, 10)),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(event.RunID)},
		},
	}, nil
}

func (p *Publisher) PublishArticle(ctx context.Context, event domain.ArticleEvent) error {
	msg, err := BuildMessage(event, p.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka topic %s: %w", p.topic, err)
	}
	p.log.Debug("publish.kafka.sent", "article_id", event.ArticleID, "topic", p.topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
