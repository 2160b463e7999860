// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package discovery

import (
	"fmt"
	"net"
	"time"
)

// transport abstracts the multicast socket pair so the registry can be
// exercised in tests without a live network.
type transport interface {
	// Read blocks until one datagram arrives or the read deadline passes.
	Read(buf []byte) (int, net.Addr, error)

	// SetReadDeadline bounds the next Read.
	SetReadDeadline(t time.Time) error

	// Send transmits one encoded frame to the multicast group.
	Send(frame []byte) error

	Close() error
}

// udpTransport is the production transport: one listener joined to the
// multicast group and one dialed sender for outbound frames.
type udpTransport struct {
	recv *net.UDPConn
	send *net.UDPConn
}

func dialMulticast(group string) (*udpTransport, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %q: %w", group, err)
	}

	recv, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("join multicast group %q: %w", group, err)
	}
	// Value bursts from a provider at full sample rate can outpace a small
	// kernel buffer.
	_ = recv.SetReadBuffer(1 << 20)

	send, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("open multicast sender for %q: %w", group, err)
	}

	return &udpTransport{recv: recv, send: send}, nil
}

func (t *udpTransport) Read(buf []byte) (int, net.Addr, error) {
	return t.recv.ReadFromUDP(buf)
}

func (t *udpTransport) SetReadDeadline(deadline time.Time) error {
	return t.recv.SetReadDeadline(deadline)
}

func (t *udpTransport) Send(frame []byte) error {
	_, err := t.send.Write(frame)
	return err
}

func (t *udpTransport) Close() error {
	sendErr := t.send.Close()
	if err := t.recv.Close(); err != nil {
		return err
	}
	return sendErr
}
