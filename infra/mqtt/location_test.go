package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/core/events"
)

type locationSink struct {
	mu  sync.Mutex
	got []events.DriverLocationUpdated
}

func (s *locationSink) Publish(ev events.DriverLocationUpdated) {
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func withMock(t *testing.T) *mockClient {
	t.Helper()
	mc := &mockClient{}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
	return mc
}

func TestLocationIngestSubscribesOnConnect(t *testing.T) {
	mc := withMock(t)
	l, err := NewLocationIngest(Config{Broker: "tcp://localhost:1883", QoS: 1}, &locationSink{})
	require.NoError(t, err)
	defer l.Close()
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "drivers/+/location", mc.subscribed[0].topic)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)
	assert.Equal(t, "routesync", mc.opts.ClientID)
}

func TestLocationIngestPublishesValidFixes(t *testing.T) {
	mc := withMock(t)
	sink := &locationSink{}
	l, err := NewLocationIngest(Config{Broker: "tcp://localhost:1883"}, sink)
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	mc.handler(mc, mockMessage{topic: "drivers/d1/location", p: []byte(`{"routeId":"r1","lat":48.85,"lng":2.35,"speed":12.5}`)})
	mc.handler(mc, mockMessage{topic: "drivers/d1/location", p: []byte(`{"lat":120,"lng":2.35}`)})
	mc.handler(mc, mockMessage{topic: "drivers/d1/location", p: []byte(`{"lng":2.35}`)})
	mc.handler(mc, mockMessage{topic: "drivers/d1/location", p: []byte(`not json`)})

	require.Len(t, sink.got, 1)
	loc := sink.got[0].Location
	assert.Equal(t, "d1", loc.DriverID)
	assert.Equal(t, "r1", loc.RouteID)
	assert.Equal(t, fixed, loc.Timestamp)
	require.NotNil(t, loc.Speed)
	assert.Equal(t, 12.5, *loc.Speed)
	assert.Nil(t, loc.Heading)
}

func TestDriverSegment(t *testing.T) {
	idx, err := driverSegment("fleet/+/gps")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	for _, bad := range []string{"drivers/location", "drivers/+/+", "drivers/#"} {
		_, err := driverSegment(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	cfg := Config{Enabled: true}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())
	cfg.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.Validate())
}
