package medtrum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	mqttPublishTimeout = 10 * time.Second
	manufacturer       = "Medtrum"
	deviceModel        = "EasyView"
)

// publisher is the slice of an MQTT client the Home Assistant bridge needs.
type publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Close()
}

type pahoPublisher struct {
	client mqtt.Client
}

func newPahoPublisher(cfg *MQTTConfig, availability string, onConnect func(), logger *zap.Logger) (*pahoPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(availability, "offline", 1, true)
	opts.OnConnect = func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		if onConnect != nil {
			go onConnect()
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttPublishTimeout) {
		// ConnectRetry keeps trying in the background.
		logger.Warn("mqtt connect still pending", zap.String("broker", cfg.Broker))
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}

// randomClientID keeps the id under the 23 bytes MQTT 3.1 brokers accept.
func randomClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "gohome-" + id[:16]
}

type discoveryDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

type discoveryMessage struct {
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	ObjectID            string          `json:"object_id"`
	StateTopic          string          `json:"state_topic"`
	JSONAttributesTopic string          `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string          `json:"availability_topic"`
	UnitOfMeasurement   string          `json:"unit_of_measurement,omitempty"`
	DeviceClass         string          `json:"device_class,omitempty"`
	Icon                string          `json:"icon,omitempty"`
	Options             []string        `json:"options,omitempty"`
	Device              discoveryDevice `json:"device"`
}

// HomeAssistant mirrors snapshots onto MQTT using Home Assistant discovery.
type HomeAssistant struct {
	pub             publisher
	discoveryPrefix string
	topicPrefix     string
	logger          *zap.Logger

	mu        sync.Mutex
	announced map[string]bool
	latest    *Snapshot

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func NewHomeAssistant(cfg *MQTTConfig, logger *zap.Logger) (*HomeAssistant, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ha := newHomeAssistant(nil, cfg.DiscoveryPrefix, cfg.TopicPrefix, logger)
	pub, err := newPahoPublisher(cfg, ha.availabilityTopic(), ha.reconnected, logger)
	if err != nil {
		return nil, err
	}
	ha.mu.Lock()
	ha.pub = pub
	ha.mu.Unlock()
	return ha, nil
}

func newHomeAssistant(pub publisher, discoveryPrefix, topicPrefix string, logger *zap.Logger) *HomeAssistant {
	ctx, cancel := context.WithCancel(context.Background())
	return &HomeAssistant{
		pub:             pub,
		discoveryPrefix: strings.TrimRight(discoveryPrefix, "/"),
		topicPrefix:     strings.TrimRight(topicPrefix, "/"),
		logger:          logger,
		announced:       make(map[string]bool),
		wake:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Notify queues snapshot for publishing and returns immediately. Only the
// newest queued snapshot is published; older ones are dropped.
func (h *HomeAssistant) Notify(snapshot *Snapshot) {
	if snapshot == nil {
		return
	}
	h.startOnce.Do(func() { go h.run() })

	h.mu.Lock()
	h.latest = snapshot
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *HomeAssistant) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.wake:
		}

		h.mu.Lock()
		snapshot := h.latest
		h.latest = nil
		h.mu.Unlock()
		if snapshot == nil {
			continue
		}
		if err := h.publish(h.ctx, snapshot); err != nil {
			h.logger.Warn("home assistant publish failed", zap.Error(err))
		}
	}
}

func (h *HomeAssistant) availabilityTopic() string {
	return h.topicPrefix + "/availability"
}

func (h *HomeAssistant) readingTopic(uid string, r Reading, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", h.topicPrefix, uid, r.Scope, r.Key, leaf)
}

func (h *HomeAssistant) discoveryTopic(r Reading) string {
	return fmt.Sprintf("%s/sensor/medtrum_%s/config", h.discoveryPrefix, r.UniqueID)
}

// reconnected forces discovery to be re-sent after a broker reconnect.
func (h *HomeAssistant) reconnected() {
	h.mu.Lock()
	h.announced = make(map[string]bool)
	pub := h.pub
	h.mu.Unlock()
	if pub == nil {
		return
	}
	if err := pub.Publish(h.availabilityTopic(), true, []byte("online")); err != nil {
		h.logger.Warn("mqtt availability publish failed", zap.Error(err))
	}
}

// Publish sends discovery (once per account) and the current state of every
// available reading. It blocks until every message is handed to the broker.
func (h *HomeAssistant) Publish(snapshot *Snapshot) error {
	return h.publish(context.Background(), snapshot)
}

// publish stops between messages once ctx is done.
func (h *HomeAssistant) publish(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	readings := Readings(snapshot)

	h.mu.Lock()
	announce := !h.announced[snapshot.UID]
	h.mu.Unlock()

	var errs []error
	if announce {
		for _, r := range readings {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := h.publishDiscovery(snapshot, r); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			h.mu.Lock()
			h.announced[snapshot.UID] = true
			h.mu.Unlock()
		}
	}

	if err := h.pub.Publish(h.availabilityTopic(), true, []byte("online")); err != nil {
		errs = append(errs, err)
	}
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Available {
			continue
		}
		if err := h.pub.Publish(h.readingTopic(snapshot.UID, r, "state"), true, []byte(r.State)); err != nil {
			errs = append(errs, err)
		}
		if len(r.Attributes) == 0 {
			continue
		}
		payload, err := json.Marshal(r.Attributes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := h.pub.Publish(h.readingTopic(snapshot.UID, r, "attributes"), true, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *HomeAssistant) publishDiscovery(snapshot *Snapshot, r Reading) error {
	msg := discoveryMessage{
		Name:              r.Name,
		UniqueID:          r.UniqueID,
		ObjectID:          "medtrum_" + r.UniqueID,
		StateTopic:        h.readingTopic(snapshot.UID, r, "state"),
		AvailabilityTopic: h.availabilityTopic(),
		UnitOfMeasurement: r.Unit,
		DeviceClass:       r.DeviceClass,
		Icon:              r.Icon,
		Device: discoveryDevice{
			Name:         snapshot.RealName,
			Identifiers:  []string{"medtrum_" + snapshot.UID},
			Model:        deviceModel,
			Manufacturer: manufacturer,
		},
	}
	if r.Attributes != nil {
		msg.JSONAttributesTopic = h.readingTopic(snapshot.UID, r, "attributes")
	}
	if r.DeviceClass == "enum" {
		msg.Options = PumpStatusOptions()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode discovery %s: %w", r.UniqueID, err)
	}
	return h.pub.Publish(h.discoveryTopic(r), true, payload)
}

// MarkOffline flags every entity unavailable, e.g. after an auth failure.
func (h *HomeAssistant) MarkOffline() error {
	return h.pub.Publish(h.availabilityTopic(), true, []byte("offline"))
}

// Close stops the publishing worker, marks entities offline and
// disconnects. An in-flight message may take up to mqttPublishTimeout.
func (h *HomeAssistant) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.startOnce.Do(func() { close(h.done) })
		<-h.done

		if err := h.MarkOffline(); err != nil {
			h.logger.Debug("mqtt offline publish failed", zap.Error(err))
		}
		h.pub.Close()
	})
}
