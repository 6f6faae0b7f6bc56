// Package telemetry publishes RCON lifecycle events and server output to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/util"
)

// SystemTopic carries the retained online/offline status of this instance.
const SystemTopic = "_system/status"

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to the broker as JSON messages on
// <prefix>/<server>/<event>.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(mqttCfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if mqttCfg.TopicPrefix == "" {
		mqttCfg.TopicPrefix = "rcon"
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"app_version": version,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconnect-%s-%s", sysInfo.Hostname, uuid.NewString()[:8]))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	statusTopic := handler.topic(SystemTopic)
	if will, err := json.Marshal(handler.buildMessage(map[string]string{"status": "offline"})); err == nil {
		opts.SetBinaryWill(statusTopic, will, 1, true)
	}

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		handler.publish(SystemTopic, map[string]string{"status": "online"}, true)
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client
	return handler, nil
}

func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: mqttCfg.BrokerURL,
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

var forwarded = []events.EventType{
	events.EventAuthenticated,
	events.EventEnd,
	events.EventError,
	events.EventCommandExecuted,
	events.EventHealthFailed,
	events.EventHealthRecovered,
}

func (h *MQTTHandler) subscribeEvents() {
	for _, t := range forwarded {
		h.eventBus.Subscribe(t, "mqtt", h.onEvent)
	}
	if h.cfg.PublishPushes {
		h.eventBus.Subscribe(events.EventResponse, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, t := range forwarded {
		h.eventBus.Unsubscribe(t, "mqtt")
	}
	h.eventBus.Unsubscribe(events.EventResponse, "mqtt")
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	server := event.Source
	switch p := event.Payload.(type) {
	case events.CommandPayload:
		server = p.Server
	case events.HealthPayload:
		server = p.Server
	}
	h.publish(EventTopic(server, event.Type), event.Payload, false)
	return nil
}

// EventTopic returns the topic suffix for an event of server.
func EventTopic(server string, eventType events.EventType) string {
	return sanitize(server) + "/" + string(eventType)
}

// sanitize keeps MQTT wildcards and level separators out of a topic level.
func sanitize(level string) string {
	if level == "" {
		return "_unknown"
	}
	return strings.NewReplacer("/", "_", "#", "_", "+", "_").Replace(level)
}

func (h *MQTTHandler) topic(suffix string) string {
	return strings.TrimSuffix(h.cfg.TopicPrefix, "/") + "/" + suffix
}

// publish sends a JSON message to prefix/suffix.
func (h *MQTTHandler) publish(suffix string, payload interface{}, retained bool) {
	if !h.pub.IsConnected() {
		return
	}
	topic := h.topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, retained, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown marks this instance offline.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(SystemTopic, map[string]string{"status": "offline"}, true)
}
