// Package mqtt publishes monitor snapshots and shutdown intents to an MQTT
// broker.
package mqtt

import (
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client manages the broker connection. Publishing goes through Publisher.
type Client struct {
	client paho.Client
	config ClientConfig
}

// ClientConfig holds MQTT client configuration.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient connects to the broker. The connection reconnects on its own
// after the first successful connect.
func NewClient(config ClientConfig) (*Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(connectHandler)
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := paho.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", config.Broker, token.Error())
	}

	log.Printf("mqtt: connected to broker %s", config.Broker)

	return &Client{client: client, config: config}, nil
}

// Native returns the underlying paho client.
func (c *Client) Native() paho.Client {
	return c.client
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects, allowing 250ms for in-flight work.
func (c *Client) Close() {
	c.client.Disconnect(250)
	log.Println("mqtt: disconnected")
}

var connectHandler paho.OnConnectHandler = func(client paho.Client) {
	log.Println("mqtt: connection established")
}

var connectLostHandler paho.ConnectionLostHandler = func(client paho.Client, err error) {
	log.Printf("mqtt: connection lost: %v", err)
}
