// SPDX-License-Identifier: MIT
package udp

import (
	"encoding"
	"fmt"

	"trackmix/internal/transport"
)

// Transport sends values that implement encoding.BinaryMarshaler as one UDP
// datagram each. The packet layout is owned by the value; for meter frames
// see meter.Frame.MarshalBinary.
type Transport struct {
	sender *Sender
}

// NewTransport wraps sender. The transport owns it from then on.
func NewTransport(sender *Sender) (*Transport, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp transport: sender cannot be nil")
	}
	return &Transport{sender: sender}, nil
}

// Dial resolves targetAddress and returns a transport sending to it.
func Dial(targetAddress string) (*Transport, error) {
	sender, err := NewSender(targetAddress)
	if err != nil {
		return nil, err
	}
	return NewTransport(sender)
}

// Send packs data and sends it. Values that cannot be packed are an error.
func (t *Transport) Send(data any) error {
	m, ok := data.(encoding.BinaryMarshaler)
	if !ok {
		return fmt.Errorf("udp transport: %T does not implement encoding.BinaryMarshaler", data)
	}
	packet, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("udp transport: pack failed: %w", err)
	}
	return t.sender.Send(packet)
}

func (t *Transport) Close() error {
	return t.sender.Close()
}

var _ transport.Transport = (*Transport)(nil)
