package medtrum

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	failOn   string
	closed   bool
}

func (f *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && topic == f.failOn {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, published{topic: topic, retained: retained, payload: string(payload)})
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakePublisher) topics() map[string]published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]published, len(f.messages))
	for _, m := range f.messages {
		out[m.topic] = m
	}
	return out
}

func (f *fakePublisher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

func TestHomeAssistantPublishesDiscoveryAndState(t *testing.T) {
	pub := &fakePublisher{}
	ha := newHomeAssistant(pub, "homeassistant/", "gohome/medtrum", zaptest.NewLogger(t))

	snapshot := sampleSnapshot(100)
	snapshot.Pump["serial"] = jsonNumber(11259375)
	require.NoError(t, ha.Publish(snapshot))

	topics := pub.topics()

	config, ok := topics["homeassistant/sensor/medtrum_123_status/config"]
	require.True(t, ok, "missing pump status discovery")
	assert.True(t, config.retained)
	var msg discoveryMessage
	require.NoError(t, json.Unmarshal([]byte(config.payload), &msg))
	assert.Equal(t, "123_status", msg.UniqueID)
	assert.Equal(t, "gohome/medtrum/123/pump/status/state", msg.StateTopic)
	assert.Equal(t, "gohome/medtrum/123/pump/status/attributes", msg.JSONAttributesTopic)
	assert.Equal(t, "gohome/medtrum/availability", msg.AvailabilityTopic)
	assert.Equal(t, "enum", msg.DeviceClass)
	assert.Equal(t, PumpStatusOptions(), msg.Options)
	assert.Equal(t, []string{"medtrum_123"}, msg.Device.Identifiers)
	assert.Equal(t, "Jane", msg.Device.Name)

	_, ok = topics["homeassistant/sensor/medtrum_123_sensor_status/config"]
	assert.True(t, ok, "missing sensor status discovery")

	assert.Equal(t, "online", topics["gohome/medtrum/availability"].payload)
	assert.Equal(t, "Delivering Basal", topics["gohome/medtrum/123/pump/status/state"].payload)
	assert.Equal(t, "100", topics["gohome/medtrum/123/pump/remainingTime/state"].payload)
	assert.Equal(t, "1", topics["gohome/medtrum/123/sensor/status/state"].payload)

	var attrs map[string]string
	require.NoError(t, json.Unmarshal([]byte(topics["gohome/medtrum/123/pump/status/attributes"].payload), &attrs))
	assert.Equal(t, "ABCDEF", attrs["Serial number"])

	_, ok = topics["gohome/medtrum/123/pump/iob/state"]
	assert.False(t, ok, "unavailable reading published a state")
}

func TestHomeAssistantAnnouncesOncePerAccount(t *testing.T) {
	pub := &fakePublisher{}
	ha := newHomeAssistant(pub, "homeassistant", "gohome/medtrum", zaptest.NewLogger(t))

	require.NoError(t, ha.Publish(sampleSnapshot(100)))
	pub.reset()
	require.NoError(t, ha.Publish(sampleSnapshot(90)))

	topics := pub.topics()
	_, ok := topics["homeassistant/sensor/medtrum_123_status/config"]
	assert.False(t, ok, "discovery re-sent")
	assert.Equal(t, "90", topics["gohome/medtrum/123/pump/remainingTime/state"].payload)

	ha.reconnected()
	pub.reset()
	require.NoError(t, ha.Publish(sampleSnapshot(80)))
	_, ok = pub.topics()["homeassistant/sensor/medtrum_123_status/config"]
	assert.True(t, ok, "discovery not re-sent after reconnect")
}

func TestHomeAssistantRetriesDiscoveryAfterFailure(t *testing.T) {
	pub := &fakePublisher{failOn: "homeassistant/sensor/medtrum_123_iob/config"}
	ha := newHomeAssistant(pub, "homeassistant", "gohome/medtrum", zaptest.NewLogger(t))

	err := ha.Publish(sampleSnapshot(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, "100", pub.topics()["gohome/medtrum/123/pump/remainingTime/state"].payload)

	pub.mu.Lock()
	pub.failOn = ""
	pub.mu.Unlock()
	pub.reset()
	require.NoError(t, ha.Publish(sampleSnapshot(100)))
	_, ok := pub.topics()["homeassistant/sensor/medtrum_123_iob/config"]
	assert.True(t, ok)
}

func TestHomeAssistantOfflineAndClose(t *testing.T) {
	pub := &fakePublisher{}
	ha := newHomeAssistant(pub, "homeassistant", "gohome/medtrum", zaptest.NewLogger(t))

	require.NoError(t, ha.MarkOffline())
	assert.Equal(t, "offline", pub.topics()["gohome/medtrum/availability"].payload)

	ha.Close()
	assert.True(t, pub.closed)
	assert.Nil(t, ha.Publish(nil))
}

func TestRandomClientID(t *testing.T) {
	a, b := randomClientID(), randomClientID()
	assert.LessOrEqual(t, len(a), 23)
	assert.Regexp(t, `^gohome-[0-9a-f]{16}$`, a)
	assert.NotEqual(t, a, b)
}

// blockingPublisher holds every publish until release is closed, like paho
// queueing behind a broker that is down.
type blockingPublisher struct {
	fakePublisher
	release chan struct{}
}

func (b *blockingPublisher) Publish(topic string, retained bool, payload []byte) error {
	<-b.release
	return b.fakePublisher.Publish(topic, retained, payload)
}

func TestSlowBrokerDoesNotStallRefresh(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	ha := newHomeAssistant(pub, "homeassistant", "gohome/medtrum", zaptest.NewLogger(t))
	fetcher := &scriptedFetcher{results: []fetchResult{{snapshot: sampleSnapshot(100)}, {snapshot: sampleSnapshot(90)}}}
	coordinator := NewCoordinator(fetcher, time.Hour, zaptest.NewLogger(t))
	coordinator.OnUpdate(ha.Notify)

	started := time.Now()
	require.Equal(t, OutcomeSuccess, coordinator.Refresh(context.Background()).Kind)
	require.Equal(t, OutcomeSuccess, coordinator.Refresh(context.Background()).Kind)
	assert.Less(t, time.Since(started), time.Second)

	close(pub.release)
	require.Eventually(t, func() bool {
		return pub.topics()["gohome/medtrum/123/pump/remainingTime/state"].payload == "90"
	}, 2*time.Second, 10*time.Millisecond)

	ha.Close()
	assert.Equal(t, "offline", pub.topics()["gohome/medtrum/availability"].payload)
}

func TestNotifyPublishesInBackground(t *testing.T) {
	pub := &fakePublisher{}
	ha := newHomeAssistant(pub, "homeassistant", "gohome/medtrum", zaptest.NewLogger(t))
	t.Cleanup(ha.Close)

	ha.Notify(sampleSnapshot(100))
	ha.Notify(sampleSnapshot(80))
	require.Eventually(t, func() bool {
		return pub.topics()["gohome/medtrum/123/pump/remainingTime/state"].payload == "80"
	}, 2*time.Second, 10*time.Millisecond)
}
