// Package publish republishes refresh deltas to an MQTT broker and relays
// commands received on a topic back to the device.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shaunagostinho/serialdash/internal/stream"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Config selects the broker and topics.
type Config struct {
	Broker       string
	Topic        string
	CommandTopic string
	ClientID     string
	QoS          byte
}

// Message is the JSON payload of one publish.
type Message struct {
	Session string       `json:"session,omitempty"`
	Port    string       `json:"port,omitempty"`
	Labels  []string     `json:"labels,omitempty"`
	Delta   stream.Delta `json:"delta"`
	Stamp   int64        `json:"stamp"`
}

// Publisher sends Messages to Config.Topic.
type Publisher struct {
	client Client
	cfg    Config
}

// NewMQTT connects to cfg.Broker. When cfg.CommandTopic is set, payloads
// received there are handed to onCommand.
func NewMQTT(cfg Config, onCommand func([]byte)) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[mqtt] connected to %s", cfg.Broker)
	})
	return newPublisher(mqtt.NewClient(opts), cfg, onCommand)
}

func newPublisher(client Client, cfg Config, onCommand func([]byte)) (*Publisher, error) {
	if tok := client.Connect(); !tok.WaitTimeout(connectTimeout) || tok.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, tokenErr(tok))
	}
	p := &Publisher{client: client, cfg: cfg}

	if cfg.CommandTopic != "" && onCommand != nil {
		tok := client.Subscribe(cfg.CommandTopic, cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			onCommand(msg.Payload())
		})
		if !tok.WaitTimeout(connectTimeout) || tok.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("mqtt: subscribe %s: %w", cfg.CommandTopic, tokenErr(tok))
		}
		log.Printf("[mqtt] relaying commands from %s", cfg.CommandTopic)
	}
	return p, nil
}

// Publish sends msg without blocking the caller. Failures are logged.
func (p *Publisher) Publish(msg Message) error {
	if !p.client.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt: encode: %w", err)
	}
	tok := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			log.Printf("[mqtt] publish to %s timed out", p.cfg.Topic)
			return
		}
		if err := tok.Error(); err != nil {
			log.Printf("[mqtt] publish to %s: %v", p.cfg.Topic, err)
		}
	}()
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func tokenErr(tok mqtt.Token) error {
	if err := tok.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out")
}
