package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Publisher sends a payload to an MQTT topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type mqttPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	return token.Error()
}

// VehicleState is a simulated vehicle driving around and accumulating
// kilometers.
type VehicleState struct {
	VehicleID  string
	OdometerKm float64
	SpeedKmh   float64
	Parked     bool
}

// step advances the vehicle by tickSec seconds. Speed drifts between 15 and
// 90 km/h; vehicles occasionally park and start again.
func (s *VehicleState) step(tickSec float64, rng *rand.Rand) {
	switch {
	case s.Parked && rng.Float64() < 0.2:
		s.Parked = false
	case !s.Parked && rng.Float64() < 0.02:
		s.Parked = true
	}
	if s.Parked {
		return
	}

	// small speed noise
	s.SpeedKmh += (rng.Float64()*2 - 1) * 1.5
	if s.SpeedKmh < 15 {
		s.SpeedKmh = 15
	}
	if s.SpeedKmh > 90 {
		s.SpeedKmh = 90
	}
	s.OdometerKm += s.SpeedKmh * (tickSec / 3600.0)
}

func (s *VehicleState) reading(now time.Time) models.OdometerReading {
	return models.OdometerReading{
		VehicleID:  s.VehicleID,
		OdometerKm: s.OdometerKm,
		Timestamp:  now.UTC(),
	}
}

// topicFor fills the '+' wildcard of the ingest topic with the vehicle id.
func topicFor(pattern, vehicleID string) string {
	return strings.Replace(pattern, "+", vehicleID, 1)
}

func parseVehicleIDs(raw string) ([]string, error) {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !primitive.IsValidObjectID(part) {
			return nil, fmt.Errorf("SIM_VEHICLE_IDS: %q is not a valid vehicle id", part)
		}
		ids = append(ids, part)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("SIM_VEHICLE_IDS: no vehicle ids given")
	}
	return ids, nil
}

func publishReading(pub Publisher, pattern string, s *VehicleState, now time.Time) error {
	payload, err := json.Marshal(s.reading(now))
	if err != nil {
		return err
	}
	return pub.Publish(topicFor(pattern, s.VehicleID), payload)
}

// simulate steps and publishes every vehicle each interval until ctx ends.
func simulate(ctx context.Context, pub Publisher, pattern string, states []*VehicleState, interval time.Duration, rng *rand.Rand) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			for _, s := range states {
				s.step(interval.Seconds(), rng)
				if err := publishReading(pub, pattern, s, now); err != nil {
					log.WithError(err).WithField("vehicle_id", s.VehicleID).Error("Failed to publish odometer reading")
					continue
				}
				log.WithFields(log.Fields{
					"vehicle_id":  s.VehicleID,
					"odometer_km": int64(s.OdometerKm),
					"parked":      s.Parked,
				}).Debug("Published odometer reading")
			}
		}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		log.Fatal("MQTT_BROKER is required")
	}
	pattern := getEnvOrDefault("MQTT_ODOMETER_TOPIC", "fleet/+/odometer")

	ids, err := parseVehicleIDs(os.Getenv("SIM_VEHICLE_IDS"))
	if err != nil {
		log.Fatal(err)
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	startKm := 0.0
	if v := os.Getenv("SIM_START_KM"); v != "" {
		if km, err := strconv.ParseFloat(v, 64); err == nil && km >= 0 {
			startKm = km
		}
	}

	if lvl, err := log.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	states := make([]*VehicleState, 0, len(ids))
	for _, id := range ids {
		states = append(states, &VehicleState{
			VehicleID:  id,
			OdometerKm: startKm,
			SpeedKmh:   30 + rng.Float64()*30,
		})
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fleet-simulator-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.WithField("broker", broker).Fatal("Timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		log.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer client.Disconnect(250)

	log.WithFields(log.Fields{
		"fleet_size": len(states),
		"broker":     broker,
		"topic":      pattern,
		"interval":   interval,
	}).Info("Odometer simulation started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	simulate(ctx, &mqttPublisher{client: client, timeout: 5 * time.Second}, pattern, states, interval, rng)
	log.Info("Odometer simulation stopped")
}
