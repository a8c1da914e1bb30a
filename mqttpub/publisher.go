package mqttpub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angas/agile-export/config"
	"github.com/angas/agile-export/coordinator"
	"github.com/angas/agile-export/rates"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	publishTimeout = 5 * time.Second

	online  = "online"
	offline = "offline"
)

var ErrPublishTimeout = errors.New("timeout when publishing to MQTT broker")

// Publisher writes the rate state as retained JSON messages, so a subscriber
// gets the latest state as soon as it connects.
type Publisher struct {
	client mqtt.Client
	logger *slog.Logger
	prefix string
}

func New(cnfg config.AppConfigMqtt) *Publisher {
	logger := slog.Default().With("module", "mqttpub")
	prefix := cnfg.GetTopicPrefix()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cnfg.Host, cnfg.GetPort()))
	opts.SetClientID("agile-export-" + uuid.NewString())
	opts.SetUsername(cnfg.Username)
	opts.SetPassword(cnfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(AvailabilityTopic(prefix), offline, 1, true)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("MQTT connected")
		client.Publish(AvailabilityTopic(prefix), 1, true, online)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	mqttLogger := slog.Default().With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	return &Publisher{
		client: mqtt.NewClient(opts),
		logger: logger,
		prefix: prefix,
	}
}

func (p *Publisher) Connect() error {
	p.logger.Debug("connecting MQTT client")
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *Publisher) Disconnect() {
	p.logger.Info("disconnecting MQTT client")
	token := p.client.Publish(AvailabilityTopic(p.prefix), 1, true, offline)
	token.WaitTimeout(time.Second)
	p.client.Disconnect(250)
}

// Publish sends the state of a region, waiting at most five seconds for the
// broker to take it.
func (p *Publisher) Publish(region string, s coordinator.Snapshot) error {
	payload, err := Payload(s)
	if err != nil {
		return err
	}

	topic := StateTopic(p.prefix, region)
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("error when publishing to %s: %w", topic, token.Error())
	}
	p.logger.Debug("state published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}

// Listener adapts Publish to a half hour update listener. Failures are logged.
func (p *Publisher) Listener(region func() string) func(coordinator.Snapshot) {
	return func(s coordinator.Snapshot) {
		if err := p.Publish(region(), s); err != nil {
			p.logger.Error("failed to publish state", slog.Any("error", err))
		}
	}
}

func StateTopic(prefix, region string) string {
	return fmt.Sprintf("%s/%s/state", prefix, region)
}

func AvailabilityTopic(prefix string) string {
	return prefix + "/status"
}

type statePayload struct {
	State         *decimal.Decimal           `json:"state"`
	Unit          string                     `json:"unit_of_measurement"`
	Tariff        string                     `json:"tariff"`
	CurrentSlot   string                     `json:"current_slot"`
	RatesToday    map[string]decimal.Decimal `json:"rates_today"`
	RatesTomorrow map[string]decimal.Decimal `json:"rates_tomorrow"`
	LastRefresh   time.Time                  `json:"last_refresh"`
}

// Payload renders a snapshot the way a sensor shows it: the current price as
// state and the day views keyed by local HH:MM. On the DST fall-back day the
// repeated hour keeps its later interval.
func Payload(s coordinator.Snapshot) ([]byte, error) {
	return json.Marshal(statePayload{
		State:         s.CurrentPrice,
		Unit:          s.Unit,
		Tariff:        s.Tariff,
		CurrentSlot:   s.CurrentSlot,
		RatesToday:    byClock(s.RatesToday),
		RatesTomorrow: byClock(s.RatesTomorrow),
		LastRefresh:   s.LastRefresh,
	})
}

func byClock(day []rates.LocalRate) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(day))
	for _, r := range day {
		m[r.Time] = r.Price
	}
	return m
}
