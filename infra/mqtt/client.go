// Package mqtt connects the dispatch core to the fleet over Eclipse Paho:
// the telematics feed arrives on a shared telemetry topic, and the driver
// mobile channel carries offers out and accept/decline actions back.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetglide/dispatchd/core/logger"
	"github.com/fleetglide/dispatchd/core/model"
	infralogger "github.com/fleetglide/dispatchd/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker         string          `json:"broker"`
	ClientID       string          `json:"client_id"`
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	TelemetryTopic string          `json:"telemetry_topic"`
	ActionTopic    string          `json:"action_topic"`
	OfferTopicFmt  string          `json:"offer_topic_fmt"`
	UseTLS         bool            `json:"use_tls"`
	ClientCert     string          `json:"client_cert"`
	ClientKey      string          `json:"client_key"`
	CABundle       string          `json:"ca_bundle"`
	AuthMethod     string          `json:"auth_method"`
	QoS            map[string]byte `json:"qos"`
	LWTTopic       string          `json:"lwt_topic"`
	LWTPayload     string          `json:"lwt_payload"`
	LWTQoS         byte            `json:"lwt_qos"`
	LWTRetain      bool            `json:"lwt_retain"`
	MaxRetries     int             `json:"max_retries"`
	BackoffMS      int             `json:"backoff_ms"`
	TLSConfig      *tls.Config     `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TelemetryTopic == "" {
		c.TelemetryTopic = "fleet/+/telemetry"
	}
	if c.ActionTopic == "" {
		c.ActionTopic = "drivers/+/action"
	}
	if c.OfferTopicFmt == "" {
		c.OfferTopicFmt = "drivers/%s/offer"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// DriverAction is a job lifecycle action sent back from the driver mobile
// app: accept or decline an offer, then start, complete or fail the job.
type DriverAction struct {
	DriverID string `json:"driver_id"`
	JobID    string `json:"job_id"`
	Action   string `json:"action"`
}

// OfferMessage is the offer payload published to a driver's mobile topic.
type OfferMessage struct {
	OfferID   string    `json:"offer_id"`
	JobID     string    `json:"job_id"`
	DriverID  string    `json:"driver_id"`
	VehicleID string    `json:"vehicle_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Client bridges MQTT topics and the dispatch core.
type Client struct {
	cli      pahoClient
	cfg      Config
	log      logger.Logger
	out      chan<- model.TelemetryEvent
	onAction func(DriverAction)
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClient connects to the broker and subscribes to the telemetry feed and
// the driver action topic. Telemetry is decoded and forwarded to out;
// actions are delivered to onAction. Both subscriptions are re-established
// on every reconnect.
func NewClient(cfg Config, out chan<- model.TelemetryEvent, onAction func(DriverAction)) (*Client, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := infralogger.New("mqtt_client")
	c := &Client{cfg: cfg, log: log, out: out, onAction: onAction}

	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected")
		if token := pc.Subscribe(cfg.TelemetryTopic, c.qos("telemetry"), c.onTelemetry); token.Wait() && token.Error() != nil {
			log.Errorf("telemetry subscribe error: %v", token.Error())
		}
		if token := pc.Subscribe(cfg.ActionTopic, c.qos("action"), c.onDriverAction); token.Wait() && token.Error() != nil {
			log.Errorf("action subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = cli
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (c *Client) qos(kind string) byte {
	if q, ok := c.cfg.QoS[kind]; ok {
		return q
	}
	return 0
}

func (c *Client) onTelemetry(_ paho.Client, msg paho.Message) {
	var ev model.TelemetryEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		c.log.Errorf("failed to decode telemetry on %s: %v", msg.Topic(), err)
		return
	}
	// The ingest loop validates content; decode failures are the only events
	// dropped here.
	select {
	case c.out <- ev:
	default:
		c.log.Warnf("telemetry channel full, dropping event from %s", ev.VehicleID)
	}
}

func (c *Client) onDriverAction(_ paho.Client, msg paho.Message) {
	var act DriverAction
	if err := json.Unmarshal(msg.Payload(), &act); err != nil {
		c.log.Errorf("failed to decode driver action: %v", err)
		return
	}
	switch act.Action {
	case "accept", "decline", "start", "complete", "fail":
	default:
		c.log.Warnf("unknown driver action %q for job %s", act.Action, act.JobID)
		return
	}
	if c.onAction != nil {
		c.onAction(act)
	}
}

// PublishOffer sends an assignment offer to the driver's mobile topic,
// retrying with exponential backoff.
func (c *Client) PublishOffer(om OfferMessage) error {
	payload, err := json.Marshal(om)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf(c.cfg.OfferTopicFmt, om.DriverID)
	backoff := time.Duration(c.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		token := c.cli.Publish(topic, c.qos("offer"), false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			c.log.Infof("offer %s published to %s", om.OfferID, topic)
			return nil
		}
		c.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
