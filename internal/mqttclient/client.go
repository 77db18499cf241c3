package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/metrics"
)

// Event kinds published under <prefix>/<kind>.
const (
	KindAnalysisCompleted = "analysis/completed"
	KindAnalysisFailed    = "analysis/failed"
	KindSampleCreated     = "samples/created"
	KindSampleUpdated     = "samples/updated"
	KindSampleDeleted     = "samples/deleted"
	KindQuestionCreated   = "questions/created"
	KindQuestionUpdated   = "questions/updated"
	KindQuestionDeleted   = "questions/deleted"
)

// Client publishes domain events to an MQTT broker. Publishing is fire and
// forget at QoS 0; a disconnected client drops events.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	now       func() time.Time
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		now:    time.Now,
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends data as a JSON envelope to <prefix>/<kind>.
func (c *Client) Publish(kind string, data any) {
	if !c.connected.Load() {
		c.log.Debug().Str("kind", kind).Msg("mqtt not connected, event dropped")
		return
	}
	payload, err := encodeEnvelope(kind, c.now(), data)
	if err != nil {
		c.log.Warn().Err(err).Str("kind", kind).Msg("mqtt event encode failed")
		return
	}
	topic := Topic(c.prefix, kind)
	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			return
		}
		metrics.EventsPublishedTotal.WithLabelValues(kind).Inc()
	}()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// Topic joins the configured prefix and an event kind.
func Topic(prefix, kind string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return kind
	}
	return prefix + "/" + kind
}

func encodeEnvelope(kind string, t time.Time, data any) ([]byte, error) {
	return json.Marshal(Envelope{Kind: kind, Time: t.UTC(), Data: data})
}
