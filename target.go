// Copyright 2026 The go-pn53x Authors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pn53x

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfc-tools/go-pn53x/internal/syncutil"
)

// targetModeState is the bitmask TgInitAsTarget's first argument uses to
// pick which of PICC/DEP/ISO14443-4 emulation modes the chip should accept
// an activation for.
type targetModeState byte

const (
	targetModePICC     targetModeState = 0x01
	targetModeDEP      targetModeState = 0x02
	targetModeISO14443 targetModeState = 0x04
)

// MifareTargetParams configures the Mifare-emulation half of TgInitAsTarget:
// the SENS_RES/SEL_RES pair and NFCID1 an external reader will see while
// this device is acting as a card.
type MifareTargetParams struct {
	NFCID1 []byte // 3 bytes
	SENSRes [2]byte
	SELRes  byte
}

// FeliCaTargetParams configures the FeliCa-emulation half of TgInitAsTarget.
type FeliCaTargetParams struct {
	IDm            [8]byte
	PMm            [8]byte
	SystemCode     [2]byte
}

// TargetConfig bundles every field TgInitAsTarget accepts. Fields for modes
// the caller does not intend to emulate may be left zero-valued.
type TargetConfig struct {
	Mifare          MifareTargetParams
	FeliCa          FeliCaTargetParams
	NFCID3          [10]byte
	GeneralBytes    []byte
	HistoricalBytes []byte
	PICC            bool
	DEP             bool
	ISO144434       bool
}

// targetState tracks whether this Device currently has an active
// TgInitAsTarget emulation session, guarded by targetMu so concurrent
// TargetSendBytes/TargetReceiveBytes calls from independent goroutines
// cannot interleave against the same chip session.
type targetState struct {
	mu     syncutil.Mutex
	active bool
}

// TargetInit puts the device into target (card emulation) mode and blocks
// until an external initiator activates it, returning the activating
// reader's first command frame. TgInitAsTarget is itself a blocking PN532
// command; ctx cancellation is the only way to abort the wait before a
// reader shows up.
func (d *Device) TargetInit(ctx context.Context, cfg TargetConfig) (initiatorCmd []byte, err error) {
	d.target.mu.Lock()
	defer d.target.mu.Unlock()

	data := buildTargetInitPayload(cfg)
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgInitAsTarget, data)
	if err != nil {
		return nil, fmt.Errorf("TgInitAsTarget failed: %w", err)
	}
	if len(res) < 1 || res[0] != 0x8D {
		return nil, errors.New("unexpected TgInitAsTarget response")
	}
	d.target.active = true
	// res[1] is the mode byte the initiator activated us under; the rest is
	// its first command frame (ATR request or Mifare command).
	if len(res) < 2 {
		return nil, nil
	}
	return res[2:], nil
}

func buildTargetInitPayload(cfg TargetConfig) []byte {
	mode := targetModeState(0)
	if cfg.PICC {
		mode |= targetModePICC
	}
	if cfg.DEP {
		mode |= targetModeDEP
	}
	if cfg.ISO144434 {
		mode |= targetModeISO14443
	}

	data := []byte{byte(mode)}
	data = append(data, cfg.Mifare.SENSRes[:]...)
	data = append(data, padTo(cfg.Mifare.NFCID1, 3)...)
	data = append(data, cfg.Mifare.SELRes)
	data = append(data, cfg.FeliCa.IDm[:]...)
	data = append(data, cfg.FeliCa.PMm[:]...)
	data = append(data, cfg.FeliCa.SystemCode[:]...)
	data = append(data, cfg.NFCID3[:]...)

	data = append(data, byte(len(cfg.GeneralBytes)))
	data = append(data, cfg.GeneralBytes...)
	data = append(data, byte(len(cfg.HistoricalBytes)))
	data = append(data, cfg.HistoricalBytes...)
	return data
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// TargetSetGeneralBytes replaces the general bytes (ATR response payload)
// advertised to the initiator after TargetInit, using TgSetGeneralBytes.
func (d *Device) TargetSetGeneralBytes(ctx context.Context, generalBytes []byte) error {
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgSetGeneralBytes, generalBytes)
	if err != nil {
		return fmt.Errorf("TgSetGeneralBytes failed: %w", err)
	}
	return checkTargetStatus(res, 0x93, "TgSetGeneralBytes")
}

// TargetReceiveBytes waits for the next data frame the activating initiator
// sends and returns its payload, using TgGetData.
func (d *Device) TargetReceiveBytes(ctx context.Context) ([]byte, error) {
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgGetData, nil)
	if err != nil {
		return nil, fmt.Errorf("TgGetData failed: %w", err)
	}
	if err := checkTargetStatus(res, 0x87, "TgGetData"); err != nil {
		return nil, err
	}
	return res[2:], nil
}

// TargetSendBytes answers the initiator's last command with data, using
// TgSetData.
func (d *Device) TargetSendBytes(ctx context.Context, data []byte) error {
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgSetData, data)
	if err != nil {
		return fmt.Errorf("TgSetData failed: %w", err)
	}
	return checkTargetStatus(res, 0x8F, "TgSetData")
}

// TargetSendBits behaves like TargetSendBytes but is meant for non-byte
// aligned DEP chaining frames; the caller is responsible for packing bits
// via internal/bitframe.WrapBits before calling it, since TgSetMetaData
// carries whole bytes on the wire exactly like TgSetData.
func (d *Device) TargetSendBits(ctx context.Context, data []byte, moreFollows bool) error {
	if !moreFollows {
		return d.TargetSendBytes(ctx, data)
	}
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgSetMetaData, data)
	if err != nil {
		return fmt.Errorf("TgSetMetaData failed: %w", err)
	}
	return checkTargetStatus(res, 0x95, "TgSetMetaData")
}

// TargetReceiveBits is the bit-level counterpart of TargetReceiveBytes.
// TgGetData carries whole bytes on the wire; callers needing an exact bit
// count should track it themselves the way TransceiveBits documents.
func (d *Device) TargetReceiveBits(ctx context.Context) ([]byte, error) {
	return d.TargetReceiveBytes(ctx)
}

// TargetStatus reports the emulation session state and last negotiated
// baud rate, using TgTargetStatus.
type TargetStatus struct {
	State byte
	BrTy  byte
}

// TargetGetStatus queries the current TgInitAsTarget session state.
func (d *Device) TargetGetStatus(ctx context.Context) (*TargetStatus, error) {
	res, err := d.transport.SendCommandWithContext(ctx, cmdTgTargetStatus, nil)
	if err != nil {
		return nil, fmt.Errorf("TgTargetStatus failed: %w", err)
	}
	if len(res) < 3 || res[0] != 0x8B {
		return nil, errors.New("unexpected TgTargetStatus response")
	}
	return &TargetStatus{State: res[1], BrTy: res[2]}, nil
}

func checkTargetStatus(res []byte, expectedCode byte, op string) error {
	if len(res) < 2 || res[0] != expectedCode {
		return fmt.Errorf("unexpected %s response", op)
	}
	if status := maskChipStatus(res[1]); status != 0x00 {
		return fmt.Errorf("%s failed with status: %02x", op, status)
	}
	return nil
}
