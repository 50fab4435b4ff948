// Package ingest consumes odometer readings published by vehicles over MQTT
// and stores them as vehicle state. Readings never trigger a sync; the next
// scheduled run picks them up.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "ingest",
			Name:      "odometer_messages_total",
			Help:      "Total number of odometer messages by result",
		},
		[]string{"result"},
	)
	brokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleet",
			Subsystem: "ingest",
			Name:      "mqtt_connected",
			Help:      "Connection with MQTT broker (1=connected)",
		},
	)
)

const (
	resultAccepted = "accepted"
	resultStale    = "stale"
	resultInvalid  = "invalid"
	resultError    = "error"
)

// OdometerStore persists odometer readings.
type OdometerStore interface {
	UpdateOdometer(ctx context.Context, id primitive.ObjectID, km int64, at time.Time) (bool, error)
}

// Subscriber applies odometer messages to the vehicle store.
type Subscriber struct {
	store   OdometerStore
	topic   string
	timeout time.Duration
	clock   func() time.Time
	log     log.FieldLogger
}

// NewSubscriber creates a subscriber for topic, which may contain a single
// '+' wildcard standing for the vehicle id.
func NewSubscriber(store OdometerStore, topic string, logger log.FieldLogger) *Subscriber {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Subscriber{
		store:   store,
		topic:   topic,
		timeout: 5 * time.Second,
		clock:   time.Now,
		log:     logger.WithField("component", "ingest"),
	}
}

// topicVehicleID extracts the segment of topic matched by the '+' wildcard
// of the subscription pattern.
func topicVehicleID(pattern, topic string) (string, bool) {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	if len(p) != len(t) {
		return "", false
	}
	id := ""
	for i := range p {
		switch p[i] {
		case "+":
			id = t[i]
		case t[i]:
		default:
			return "", false
		}
	}
	return id, id != ""
}

// Handle decodes and stores one reading. It reports whether the stored
// odometer moved forward.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) (bool, error) {
	var reading models.OdometerReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return false, models.Invalid("payload", "invalid JSON: %v", err)
	}
	if err := reading.Validate(); err != nil {
		return false, err
	}
	if strings.Contains(s.topic, "+") {
		topicID, ok := topicVehicleID(s.topic, topic)
		if !ok {
			return false, models.Invalid("topic", "%q does not match %q", topic, s.topic)
		}
		if topicID != reading.VehicleID {
			return false, models.Invalid("vehicle_id", "payload id %s does not match topic id %s", reading.VehicleID, topicID)
		}
	}
	id, err := primitive.ObjectIDFromHex(reading.VehicleID)
	if err != nil {
		return false, models.Invalid("vehicle_id", "%q is not a valid id", reading.VehicleID)
	}
	at := reading.Timestamp
	if at.IsZero() {
		at = s.clock()
	}

	updated, err := s.store.UpdateOdometer(ctx, id, reading.Kilometers(), at)
	if err != nil {
		return false, fmt.Errorf("update odometer of %s: %w", reading.VehicleID, err)
	}
	return updated, nil
}

// HandleMessage is the paho message handler. Bad messages are logged and
// dropped.
func (s *Subscriber) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entry := s.log.WithField("topic", msg.Topic())
	updated, err := s.Handle(ctx, msg.Topic(), msg.Payload())
	switch {
	case err == nil && updated:
		messagesTotal.WithLabelValues(resultAccepted).Inc()
		entry.Debug("odometer updated")
	case err == nil:
		messagesTotal.WithLabelValues(resultStale).Inc()
		entry.Debug("stale odometer reading ignored")
	case models.IsValidation(err) || models.IsNotFound(err):
		messagesTotal.WithLabelValues(resultInvalid).Inc()
		entry.WithError(err).Warn("odometer message dropped")
	default:
		messagesTotal.WithLabelValues(resultError).Inc()
		entry.WithError(err).Error("odometer message failed")
	}
}

// Connect connects to the broker and subscribes. The subscription is
// renewed on every reconnect.
func (s *Subscriber) Connect(broker, clientID string) (mqtt.Client, error) {
	if broker == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			brokerConnected.Set(0)
			s.log.WithError(err).Warn("mqtt connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			brokerConnected.Set(1)
			token := c.Subscribe(s.topic, 1, s.HandleMessage)
			if token.WaitTimeout(s.timeout) && token.Error() != nil {
				s.log.WithError(token.Error()).WithField("topic", s.topic).Error("mqtt subscribe failed")
				return
			}
			s.log.WithField("topic", s.topic).Info("subscribed to odometer topic")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return client, nil
}
