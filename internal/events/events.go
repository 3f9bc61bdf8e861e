// Package events publishes purchase receipts to interested subscribers.
package events

import (
	"encoding/json"
	"fmt"

	"marketplace/internal/models"

	"github.com/nats-io/nats.go"
)

// PurchasesTopic carries one JSON receipt per completed purchase.
const PurchasesTopic = "marketplace.purchases"

// Publisher sends receipts out of the process.
type Publisher interface {
	PublishReceipt(receipt *models.Receipt) error
}

// Nop drops every receipt.
type Nop struct{}

func (Nop) PublishReceipt(*models.Receipt) error { return nil }

// NatsBus publishes receipts on a NATS connection.
type NatsBus struct {
	nc    *nats.Conn
	topic string
}

// ConnectNats dials url and returns a bus publishing on PurchasesTopic.
func ConnectNats(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url, nats.Name("marketplace"))
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return NewNatsBus(nc), nil
}

// NewNatsBus wraps an existing connection.
func NewNatsBus(nc *nats.Conn) *NatsBus {
	return &NatsBus{nc: nc, topic: PurchasesTopic}
}

func (b *NatsBus) PublishReceipt(receipt *models.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("events: encode receipt: %w", err)
	}
	return b.nc.Publish(b.topic, data)
}

// Close drains pending messages and closes the connection.
func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
