// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const mimeReadLimit = 512 //bytes that mime will read

const (
	schemePlain  = "amqp"
	schemeSecure = "amqps"
)

const defaultDialTimeout = 30 * time.Second

// Client holds the connection parameters of the broker.
type Client struct {
	Protocol     string        `env:"RABBITMQ_PROTOCOL" yaml:"protocol"`
	Host         string        `env:"RABBITMQ_HOST" yaml:"host"`
	Port         int           `env:"RABBITMQ_PORT" yaml:"port"`
	Username     string        `env:"RABBITMQ_USER" yaml:"-"`
	Password     string        `env:"RABBITMQ_PASS" yaml:"-"`
	VHost        string        `env:"RABBITMQ_VHOST" yaml:"vhost"`
	CACert       string        `env:"RABBITMQ_CERT" yaml:"ca_cert"` // base64 encoded PEM, amqps only
	TcpHeartBeat time.Duration `env:"RABBITMQ_HEARTBEAT" yaml:"tcp_heartbeat"`
	Properties   amqp091.Table `yaml:"properties"`
	// Confirm puts the channel in confirm mode; Publish then waits for the broker ack.
	Confirm bool `env:"RABBITMQ_CONFIRM" yaml:"confirm"`
	// DialTimeout bounds the TCP, TLS and AMQP handshake. Defaults to 30s.
	DialTimeout time.Duration `env:"RABBITMQ_DIAL_TIMEOUT" yaml:"dial_timeout"`
}

// FromEnv returns a Client filled from the RABBITMQ_* environment variables.
// Unset variables leave the zero value, which Dial replaces with defaults.
func FromEnv() (*Client, error) {
	cfg := new(Client)
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields with the RABBITMQ_* variables that are set.
func (c *Client) ApplyEnv() error {
	strs := map[string]*string{
		"RABBITMQ_PROTOCOL": &c.Protocol,
		"RABBITMQ_HOST":     &c.Host,
		"RABBITMQ_USER":     &c.Username,
		"RABBITMQ_PASS":     &c.Password,
		"RABBITMQ_VHOST":    &c.VHost,
		"RABBITMQ_CERT":     &c.CACert,
	}
	for key, dst := range strs {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			*dst = val
		}
	}

	if val, ok := os.LookupEnv("RABBITMQ_PORT"); ok && val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("parse RABBITMQ_PORT: %w", err)
		}
		c.Port = port
	}

	if val, ok := os.LookupEnv("RABBITMQ_HEARTBEAT"); ok && val != "" {
		hb, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse RABBITMQ_HEARTBEAT: %w", err)
		}
		c.TcpHeartBeat = hb
	}

	if val, ok := os.LookupEnv("RABBITMQ_DIAL_TIMEOUT"); ok && val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse RABBITMQ_DIAL_TIMEOUT: %w", err)
		}
		c.DialTimeout = timeout
	}

	if val, ok := os.LookupEnv("RABBITMQ_CONFIRM"); ok && val != "" {
		confirm, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("parse RABBITMQ_CONFIRM: %w", err)
		}
		c.Confirm = confirm
	}

	return nil
}

// URL builds the broker URI. Credentials travel through SASL, not the URI.
func (c *Client) URL() *url.URL {
	var (
		scheme = c.Protocol
		host   = c.Host
		port   = c.Port
	)

	if scheme == "" {
		scheme = schemePlain
	}

	if host == "" {
		host = "localhost"
	}

	if port == 0 {
		port = 5672
		if scheme == schemeSecure {
			port = 5671
		}
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
}

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}

	return defaultDialTimeout
}

// amqpConfig maps the Client into the amqp091 dial configuration.
func (c *Client) amqpConfig() (amqp091.Config, error) {
	cfg := amqp091.Config{
		SASL: []amqp091.Authentication{
			&amqp091.PlainAuth{Username: c.Username, Password: c.Password},
		},
		Vhost:      c.VHost,
		Properties: c.Properties,
		Heartbeat:  c.TcpHeartBeat,
	}

	if c.Username == "" && c.Password == "" {
		cfg.SASL = []amqp091.Authentication{
			&amqp091.PlainAuth{Username: "guest", Password: "guest"},
		}
	}

	if c.Protocol != schemeSecure {
		return cfg, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CACert != "" {
		pem, err := base64.StdEncoding.DecodeString(c.CACert)
		if err != nil {
			return cfg, fmt.Errorf("decode ca certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return cfg, InvalidCACertError{}
		}

		tlsCfg.RootCAs = pool
	}

	cfg.TLSClientConfig = tlsCfg

	return cfg, nil
}
