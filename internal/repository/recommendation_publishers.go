package repository

import (
	"context"
	"fmt"

	"Trape/internal/domain/models"
	domrepo "Trape/internal/domain/repository"
	pkgkafka "Trape/pkg/kafka"
	pkgnats "Trape/pkg/nats"

	"github.com/goccy/go-json"
)

// KafkaRecommendationPublisher writes each recommendation to a topic keyed by
// symbol so one symbol stays on one partition.
type KafkaRecommendationPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaRecommendationPublisher(producer *pkgkafka.Producer, topic string) domrepo.RecommendationPublisher {
	return &KafkaRecommendationPublisher{producer: producer, topic: topic}
}

func (p *KafkaRecommendationPublisher) Publish(ctx context.Context, rec models.Recommendation) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(rec.Symbol), rec); err != nil {
		return fmt.Errorf("publish recommendation %s: %w", rec.Symbol, err)
	}
	return nil
}

// Close leaves the producer open; it is shared with the log collector and
// closed by the application.
func (p *KafkaRecommendationPublisher) Close() error { return nil }

// natsConn is the part of pkg/nats.Client the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Close() error
}

// NATSRecommendationPublisher publishes to "<subject>.<SYMBOL>".
type NATSRecommendationPublisher struct {
	conn    natsConn
	subject string
}

var _ natsConn = (*pkgnats.Client)(nil)

func NewNATSRecommendationPublisher(conn *pkgnats.Client, subject string) domrepo.RecommendationPublisher {
	return &NATSRecommendationPublisher{conn: conn, subject: subject}
}

func (p *NATSRecommendationPublisher) subjectFor(symbol string) string {
	return p.subject + "." + symbol
}

func (p *NATSRecommendationPublisher) Publish(ctx context.Context, rec models.Recommendation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}
	if err := p.conn.Publish(p.subjectFor(rec.Symbol), data); err != nil {
		return fmt.Errorf("publish recommendation %s: %w", rec.Symbol, err)
	}
	return nil
}

func (p *NATSRecommendationPublisher) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopRecommendationPublisher drops every recommendation.
type NopRecommendationPublisher struct{}

func (NopRecommendationPublisher) Publish(context.Context, models.Recommendation) error { return nil }

func (NopRecommendationPublisher) Close() error { return nil }
