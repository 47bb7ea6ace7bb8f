// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

// Package mqttpub is an optional regreg.Announcer that mirrors register
// changes onto an MQTT broker, adapted from the mqttradio command's mq
// connection-handling pattern.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// LogPrintf is used by Publisher to report connection and publish problems.
type LogPrintf func(format string, v ...interface{})

// Config holds the broker connection parameters.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	TopicPrefix string
}

// update is the JSON payload published for every register change.
type update struct {
	Addr uint16
	Data []byte
}

// Publisher implements regreg.Announcer by publishing every register change
// to "<prefix>/<addr>" as a JSON {Addr, Data} object.
type Publisher struct {
	conn   mqtt.Client
	prefix string
	log    LogPrintf
}

// New connects to the broker named in cfg. The connection persists and
// reconnects on its own; New only waits for the initial handshake.
func New(cfg Config, log LogPrintf) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.ClientID = "pca301gw"
	opts.Username = cfg.User
	opts.Password = cfg.Password

	conn := mqtt.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqttpub: connect to %s:%d timed out", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, prefix: cfg.TopicPrefix, log: log}, nil
}

// Announce implements regreg.Announcer.
func (p *Publisher) Announce(addr uint16, data []byte) {
	payload, err := buildPayload(addr, data)
	if err != nil {
		p.logf("mqttpub: marshal addr %d: %v", addr, err)
		return
	}

	t := topic(p.prefix, addr)
	token := p.conn.Publish(t, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.logf("mqttpub: publish to %s timed out", t)
	}
}

// Close disconnects from the broker, waiting up to 250ms to flush.
func (p *Publisher) Close() { p.conn.Disconnect(250) }

func (p *Publisher) logf(format string, v ...interface{}) {
	if p.log != nil {
		p.log(format, v...)
	}
}

func topic(prefix string, addr uint16) string {
	return fmt.Sprintf("%s/%d", prefix, addr)
}

func buildPayload(addr uint16, data []byte) ([]byte, error) {
	return json.Marshal(update{Addr: addr, Data: data})
}
