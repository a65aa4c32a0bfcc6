package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/infra/logger"
)

var locationMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mqtt_location_messages_total",
	Help: "Driver location messages received over MQTT by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(locationMessages)
}

// LocationPublisher receives accepted fixes.
type LocationPublisher interface {
	Publish(events.DriverLocationUpdated)
}

// locationPayload is the device message. The driver comes from the topic.
type locationPayload struct {
	RouteID   string    `json:"routeId"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Heading   *float64  `json:"heading"`
	Speed     *float64  `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationIngest subscribes to driver location topics and republishes valid
// fixes on the signal bus.
type LocationIngest struct {
	cli     pahoClient
	topic   string
	segment int
	qos     byte
	out     LocationPublisher
	now     func() time.Time
	log     logger.Logger
}

// NewLocationIngest connects to the broker. The subscription is renewed on
// every reconnect.
func NewLocationIngest(cfg Config, out LocationPublisher) (*LocationIngest, error) {
	cfg.SetDefaults()
	seg, err := driverSegment(cfg.LocationTopic)
	if err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_location")
	l := &LocationIngest{topic: cfg.LocationTopic, segment: seg, qos: cfg.QoS, out: out, now: time.Now, log: log}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected, subscribing to %s", l.topic)
		if token := c.Subscribe(l.topic, l.qos, l.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	l.cli = c
	return l, nil
}

// driverSegment returns the index of the single-level wildcard that carries
// the driver id.
func driverSegment(topic string) (int, error) {
	idx := -1
	for i, part := range strings.Split(topic, "/") {
		switch part {
		case "+":
			if idx >= 0 {
				return 0, fmt.Errorf("mqtt: topic %q has more than one wildcard", topic)
			}
			idx = i
		case "#":
			return 0, fmt.Errorf("mqtt: topic %q must not use #", topic)
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("mqtt: topic %q needs a + wildcard for the driver id", topic)
	}
	return idx, nil
}

func (l *LocationIngest) onMessage(_ paho.Client, msg paho.Message) {
	loc, err := l.decode(msg.Topic(), msg.Payload())
	if err != nil {
		locationMessages.WithLabelValues("rejected").Inc()
		l.log.Warnf("drop location on %s: %v", msg.Topic(), err)
		return
	}
	locationMessages.WithLabelValues("accepted").Inc()
	l.out.Publish(events.DriverLocationUpdated{Location: loc})
}

func (l *LocationIngest) decode(topic string, payload []byte) (model.DriverLocation, error) {
	parts := strings.Split(topic, "/")
	if l.segment >= len(parts) || parts[l.segment] == "" {
		return model.DriverLocation{}, fmt.Errorf("no driver id in topic")
	}
	var p locationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DriverLocation{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Lat == nil || p.Lng == nil {
		return model.DriverLocation{}, fmt.Errorf("lat and lng are required")
	}
	loc := model.DriverLocation{
		DriverID:  parts[l.segment],
		RouteID:   p.RouteID,
		Lat:       *p.Lat,
		Lng:       *p.Lng,
		Heading:   p.Heading,
		Speed:     p.Speed,
		Timestamp: p.Timestamp,
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = l.now()
	}
	return loc, loc.Validate()
}

// Close gracefully closes the MQTT connection.
func (l *LocationIngest) Close() {
	if l.cli != nil && l.cli.IsConnected() {
		l.cli.Disconnect(250)
	}
}
