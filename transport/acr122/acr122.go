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

// Package acr122 drives ACS ACR122U PC/SC readers, which carry PN532 TAMA
// frames wrapped inside a vendor "direct transmit" pseudo-APDU rather than
// exposing the chip's UART/I2C/SPI pins directly.
package acr122

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/nfc-tools/go-pn53x"
)

const (
	hostToPn532 = 0xD4
	pn532ToHost = 0xD5

	// pseudoAPDUClass/pseudoAPDUIns select the ACR122's "direct transmit to
	// contactless chip" vendor command; P1/P2 are always zero.
	pseudoAPDUClass = 0xFF
	pseudoAPDUIns   = 0x00
)

// Transport implements pn53x.Transport for ACR122-family PC/SC readers.
type Transport struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	mu     sync.Mutex
}

// New connects to a PC/SC reader. readerName may be empty to select the
// first reader the PC/SC subsystem reports.
func New(readerName string) (*Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}

	if readerName == "" {
		readers, err := ctx.ListReaders()
		if err != nil {
			_ = ctx.Release()
			return nil, fmt.Errorf("failed to list PC/SC readers: %w", err)
		}
		if len(readers) == 0 {
			_ = ctx.Release()
			return nil, pn53x.ErrDeviceNotFound
		}
		readerName = readers[0]
	}

	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("failed to connect to reader %s: %w", readerName, err)
	}

	return &Transport{ctx: ctx, card: card, reader: readerName}, nil
}

// SendCommand wraps cmd/args in the ACR122 pseudo-APDU envelope, transmits
// it, and unwraps the PN532 response frame from the returned APDU.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := make([]byte, 0, 2+len(args))
	data = append(data, hostToPn532, cmd)
	data = append(data, args...)
	if len(data) > 255 {
		return nil, pn53x.NewDataTooLargeError("SendCommand", t.reader)
	}

	apdu := make([]byte, 0, 5+len(data))
	apdu = append(apdu, pseudoAPDUClass, pseudoAPDUIns, 0x00, 0x00, byte(len(data)))
	apdu = append(apdu, data...)

	res, err := t.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("ACR122 transmit failed: %w", err)
	}
	return parsePseudoAPDUResponse(res, t.reader)
}

func parsePseudoAPDUResponse(res []byte, reader string) ([]byte, error) {
	if len(res) < 2 {
		return nil, pn53x.NewInvalidResponseError("parsePseudoAPDUResponse", reader)
	}
	sw1, sw2 := res[len(res)-2], res[len(res)-1]
	body := res[:len(res)-2]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("ACR122 direct transmit failed: SW=%02X%02X", sw1, sw2)
	}
	if len(body) < 2 || body[0] != pn532ToHost {
		return nil, pn53x.NewInvalidResponseError("parsePseudoAPDUResponse", reader)
	}
	return body[1:], nil
}

// SendCommandWithContext honors ctx cancellation around a blocking Transmit.
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

// SetTimeout is a no-op: PC/SC Transmit calls block on the driver's own
// timeout, which scard does not expose a per-call override for.
func (t *Transport) SetTimeout(_ time.Duration) error {
	return nil
}

// Close disconnects the card and releases the PC/SC context.
func (t *Transport) Close() error {
	var errs []error
	if t.card != nil {
		if err := t.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, err)
		}
	}
	if t.ctx != nil {
		if err := t.ctx.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether the PC/SC card handle is open.
func (t *Transport) IsConnected() bool {
	return t.card != nil
}

// Type returns the transport type.
func (*Transport) Type() pn53x.TransportType {
	return pn53x.TransportType("acr122")
}

// Ensure Transport implements pn53x.Transport
var _ pn53x.Transport = (*Transport)(nil)

func init() {
	pn53x.RegisterDriver(pn53x.Driver{
		Name: "acr122",
		Probe: func(_ context.Context) ([]string, error) {
			ctx, err := scard.EstablishContext()
			if err != nil {
				return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
			}
			defer func() { _ = ctx.Release() }()
			return ctx.ListReaders()
		},
		Open: func(connString string) (pn53x.Transport, error) {
			return New(connString)
		},
	})
}
