// go-pn53x
// Copyright (c) 2025 The go-pn53x Authors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn53x.
//
// go-pn53x is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn53x is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn53x; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package arygon drives Arygon's serial NFC readers, which sit a
// single-byte firmware selector in front of the same TAMA frame format the
// PN532 speaks natively over UART.
package arygon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nfc-tools/go-pn53x"
	"github.com/nfc-tools/go-pn53x/internal/frame"
	"go.bug.st/serial"
)

const (
	// tamaSelector is the leading byte Arygon readers use to pick the TAMA
	// (PN532) firmware personality over other chips the same reader family
	// can host.
	tamaSelector = '2'

	// interFrameDelay is the minimum pacing Arygon's firmware needs between
	// frames; sending faster causes it to drop the next command.
	interFrameDelay = 50 * time.Millisecond

	// maxNackRetries bounds how many times receiveFrame will NACK a
	// corrupted response before giving up.
	maxNackRetries = 3
)

// Transport implements pn53x.Transport for Arygon serial readers.
type Transport struct {
	port         serial.Port
	portName     string
	mu           sync.Mutex
	lastFrameAt  time.Time
}

// New opens portName and configures it for an Arygon reader's default
// serial settings.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open Arygon port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set Arygon read timeout: %w", err)
	}
	return &Transport{port: port, portName: portName}, nil
}

func (t *Transport) pace() {
	if wait := interFrameDelay - time.Since(t.lastFrameAt); wait > 0 {
		time.Sleep(wait)
	}
}

// SendCommand sends a command and waits for the response.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pace()
	if err := t.sendFrame(cmd, args); err != nil {
		return nil, err
	}
	t.lastFrameAt = time.Now()

	if err := t.waitAck(); err != nil {
		return nil, err
	}

	var res []byte
	for attempt := 0; ; attempt++ {
		res, err = t.receiveFrame()
		if err == nil {
			break
		}
		if !errors.Is(err, pn53x.ErrChecksumMismatch) || attempt >= maxNackRetries {
			return nil, err
		}
		if nackErr := t.sendNack(); nackErr != nil {
			return nil, nackErr
		}
	}
	t.lastFrameAt = time.Now()
	return res, nil
}

// SendCommandWithContext sends a command honoring ctx cancellation.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	type result struct {
		res []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := t.SendCommand(cmd, args)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetTimeout sets the read timeout for the underlying serial port.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("Arygon set timeout failed: %w", err)
	}
	return nil
}

// Close closes the underlying serial port.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("Arygon close failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	return t.port != nil
}

// Type returns the transport type.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportUART
}

func (t *Transport) sendFrame(cmd byte, args []byte) error {
	body, err := frame.Wrap(frame.HostToPn532, cmd, args)
	if err != nil {
		return pn53x.NewDataTooLargeError("sendFrame", t.portName)
	}

	frm := make([]byte, 0, len(body)+1)
	frm = append(frm, tamaSelector)
	frm = append(frm, body...)

	n, err := t.port.Write(frm)
	if err != nil {
		return fmt.Errorf("Arygon frame write failed: %w", err)
	}
	if n != len(frm) {
		return pn53x.NewTransportWriteError("sendFrame", t.portName)
	}
	return nil
}

func (t *Transport) sendNack() error {
	frm := make([]byte, 0, len(frame.NackFrame)+1)
	frm = append(frm, tamaSelector)
	frm = append(frm, frame.SendNack()...)
	if _, err := t.port.Write(frm); err != nil {
		return fmt.Errorf("Arygon NACK write failed: %w", err)
	}
	return nil
}

func (t *Transport) waitAck() error {
	buf := make([]byte, 6)
	read := 0
	deadline := time.Now().Add(1 * time.Second)

	for read < 6 {
		if time.Now().After(deadline) {
			return pn53x.NewNoACKError("waitAck", t.portName)
		}
		n, err := t.port.Read(buf[read:])
		if err != nil {
			return fmt.Errorf("Arygon ACK read failed: %w", err)
		}
		read += n
	}

	if !frame.WaitAck(buf) {
		return pn53x.NewNoACKError("waitAck", t.portName)
	}
	return nil
}

func (t *Transport) receiveFrame() ([]byte, error) {
	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)

	totalLen, err := t.readUntilFrameStart(buf)
	if err != nil {
		return nil, err
	}

	off := 0
	for ; off < totalLen && buf[off] != 0xFF; off++ {
	}
	if off == totalLen {
		return nil, &pn53x.TransportError{
			Op: "receiveFrame", Port: t.portName,
			Err: pn53x.ErrFrameCorrupted, Type: pn53x.ErrorTypeTransient, Retryable: true,
		}
	}

	frameLen, shouldRetry, err := frame.ValidateFrameLength(buf, off, totalLen, "receiveFrame", t.portName)
	if err != nil {
		return nil, pn53x.NewFrameCorruptedError("receiveFrame", t.portName)
	}
	if shouldRetry {
		return nil, &pn53x.TransportError{
			Op: "receiveFrame", Port: t.portName,
			Err: pn53x.ErrChecksumMismatch, Type: pn53x.ErrorTypeTransient, Retryable: true,
		}
	}

	dataOff := off + 1
	expectedLen := dataOff + 2 + frameLen + 1
	if expectedLen > len(buf) {
		return nil, &pn53x.TransportError{
			Op: "receiveFrame", Port: t.portName,
			Err: pn53x.ErrDataTooLarge, Type: pn53x.ErrorTypePermanent, Retryable: false,
		}
	}
	for totalLen < expectedLen {
		n, err := t.port.Read(buf[totalLen:expectedLen])
		if err != nil {
			return nil, fmt.Errorf("Arygon remaining data read failed: %w", err)
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		totalLen += n
	}

	if frame.ValidateFrameChecksum(buf, dataOff+2, dataOff+2+frameLen+1) {
		return nil, &pn53x.TransportError{
			Op: "receiveFrame", Port: t.portName,
			Err: pn53x.ErrChecksumMismatch, Type: pn53x.ErrorTypeTransient, Retryable: true,
		}
	}

	data, _, err := frame.ExtractFrameData(buf, dataOff, frameLen, frame.Pn532ToHost)
	if err != nil {
		return nil, pn53x.NewFrameCorruptedError("receiveFrame", t.portName)
	}
	return data, nil
}

func (t *Transport) readUntilFrameStart(buf []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	n, err := t.port.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("Arygon initial data read failed: %w", err)
	}
	if n == 0 {
		time.Sleep(50 * time.Millisecond)
		n, err = t.port.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("Arygon retry data read failed: %w", err)
		}
	}
	return n, nil
}

// Ensure Transport implements pn53x.Transport
var _ pn53x.Transport = (*Transport)(nil)

func init() {
	pn53x.RegisterDriver(pn53x.Driver{
		Name: "arygon",
		Probe: func(ctx context.Context) ([]string, error) {
			return pn53x.ProbeViaDetection(ctx, "arygon")
		},
		Open: func(connString string) (pn53x.Transport, error) {
			return New(connString)
		},
	})
}
