package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// KafkaProducer streams ride lifecycle events and puller positions to
// two topics. Publishing is best-effort from the caller's point of view.
type KafkaProducer struct {
	events    *kafka.Writer
	locations *kafka.Writer
}

func NewKafkaProducer(brokers []string, eventTopic, locationTopic string) *KafkaProducer {
	return &KafkaProducer{
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventTopic, Balancer: &kafka.LeastBytes{}}),
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaProducer) Publish(ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

// LocationUpdate is the wire format consumed by cmd/consumer.
type LocationUpdate struct {
	PullerID string       `json:"puller_id"`
	Loc      models.Coord `json:"loc"`
}

func (k *KafkaProducer) PublishLocation(pullerID string, loc models.Coord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(LocationUpdate{PullerID: pullerID, Loc: loc})
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(pullerID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var err error
	if k.events != nil {
		err = k.events.Close()
	}
	if k.locations != nil {
		if cerr := k.locations.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
