package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"veda/internal/platform/kafka"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "veda_consent_events_published_total",
	Help: "Domain events published to the consent events stream, by type",
}, []string{"event_type"})

// KafkaPublisher publishes events to the consent events stream, keyed by
// (dp_id, df_id) so per-principal ordering rides partition FIFO.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafka(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: kafka.TopicEvents}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := []byte(ev.DPID + ":" + ev.DFID)
	if err := p.producer.Publish(ctx, p.topic, key, payload); err != nil {
		return err
	}
	eventsPublished.WithLabelValues(ev.EventType).Inc()
	return nil
}
