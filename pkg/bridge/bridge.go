// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge republishes ECU broadcasts to an MQTT broker.
//
// Messages sent by the ECU are published to <prefix>/<engine_id>/<variant>
// with the encoded message as payload, e.g. miniecu/1/status.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/golang/glog"
)

// QueueSize is the number of messages buffered for publishing
const QueueSize = 64

// Publisher sends one message to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Topic builds the topic for a message
func Topic(prefix string, m msgs.Message) string {
	variant := strings.ToLower(m.Tag().String())
	if prefix == "" {
		return fmt.Sprintf("%d/%s", msgs.EngineID(m), variant)
	}
	return fmt.Sprintf("%s/%d/%s", strings.TrimSuffix(prefix, "/"), msgs.EngineID(m), variant)
}

type item struct {
	topic   string
	payload []byte
}

// Bridge observes the hub and forwards broadcasts to a Publisher
type Bridge struct {
	// Endpoint restricts forwarding to one endpoint; every endpoint carries
	// the same broadcasts. Empty forwards all.
	Endpoint string
	// Endpoints lists the connected endpoints in registration order. When
	// set and Endpoint is empty, only the oldest endpoint is forwarded.
	Endpoints func() []string

	pub    Publisher
	prefix string
	queue  chan item

	mu      sync.Mutex
	dropped int
}

// New creates a bridge publishing under prefix
func New(pub Publisher, prefix string) *Bridge {
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		queue:  make(chan item, QueueSize),
	}
}

func forwarded(t msgs.Tag) bool {
	switch t {
	case msgs.TagStatus, msgs.TagStatusText, msgs.TagParamValue, msgs.TagTimeReference:
		return true
	}
	return false
}

// Observe implements session.Observer
func (b *Bridge) Observe(ev session.Event) {
	if ev.Direction != session.Tx || !forwarded(ev.Message.Tag()) {
		return
	}
	if !b.selected(ev.Endpoint) {
		return
	}

	select {
	case b.queue <- item{topic: Topic(b.prefix, ev.Message), payload: ev.Payload}:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

func (b *Bridge) selected(endpoint string) bool {
	switch {
	case b.Endpoint != "":
		return endpoint == b.Endpoint
	case b.Endpoints != nil:
		names := b.Endpoints()
		return len(names) > 0 && names[0] == endpoint
	}
	return true
}

// Dropped returns the number of messages lost to a full queue
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Run publishes queued messages until ctx is done
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it := <-b.queue:
			if err := b.pub.Publish(it.topic, it.payload); err != nil {
				glog.Warningf("bridge: %s: %v", it.topic, err)
				continue
			}
			if glog.V(2) {
				glog.Infof("bridge: PUB %s (%d bytes)", it.topic, len(it.payload))
			}
		}
	}
}
