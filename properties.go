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
	"fmt"
	"time"
)

// Property is a boolean initiator/target behavior flag, mirroring libnfc's
// nfc_property enum. Some properties are handled purely in software (CRC and
// parity computation move into internal/frame when disabled) while others
// are pushed to the chip via RFConfiguration.
type Property int

const (
	// HandleCRC lets the chip compute and check the frame CRC. Disabling it
	// makes TransceiveBits append/verify the CRC_A trailer itself using
	// internal/frame.CRCA instead of relying on the chip.
	HandleCRC Property = iota
	// HandleParity lets the chip pack the per-byte parity bit during
	// transceive. Disabling it hands raw parity-stripped bits to the caller
	// via internal/bitframe.
	HandleParity
	// ActivateField keeps the RF field powered between transactions.
	ActivateField
	// ActivateCrypto1 turns on the MIFARE Crypto1 cipher after authentication.
	ActivateCrypto1
	// InfiniteSelect retries target selection until AbortCommand is called.
	InfiniteSelect
	// AcceptInvalidFrames disables frame-format sanity checks on receive.
	AcceptInvalidFrames
	// AcceptMultipleFrames disables the single-frame InListPassiveTarget cap.
	AcceptMultipleFrames
	// AutoISO144434 lets the chip perform the ISO14443-4 RATS/PPS handshake.
	AutoISO144434
	// EasyFraming skips manual CRC/parity handling in TransceiveBytes.
	EasyFraming
	// ForceISO14443A is recorded by SetProperty; polling does not read it
	// and is not restricted to ISO14443-A modulation.
	ForceISO14443A
	// ForceISO14443B is recorded by SetProperty; polling does not read it
	// and is not restricted to ISO14443-B modulation.
	ForceISO14443B
	// ForceSpeed106 is recorded by SetProperty; polling does not read it
	// and is not restricted to the 106 kbps baud rate.
	ForceSpeed106
	// TimeoutCommand sets the chip-side command timeout (RFConfiguration 0x02).
	TimeoutCommand
	// TimeoutATR sets the ATR response timeout during DEP negotiation.
	TimeoutATR
	// TimeoutCom sets the host-side transport read timeout.
	TimeoutCom
)

func (p Property) String() string {
	names := [...]string{
		"HANDLE_CRC", "HANDLE_PARITY", "ACTIVATE_FIELD", "ACTIVATE_CRYPTO1",
		"INFINITE_SELECT", "ACCEPT_INVALID_FRAMES", "ACCEPT_MULTIPLE_FRAMES",
		"AUTO_ISO14443_4", "EASY_FRAMING", "FORCE_ISO14443_A",
		"FORCE_ISO14443_B", "FORCE_SPEED_106", "TIMEOUT_COMMAND",
		"TIMEOUT_ATR", "TIMEOUT_COM",
	}
	if int(p) < 0 || int(p) >= len(names) {
		return "UNKNOWN_PROPERTY"
	}
	return names[p]
}

// propertyState is a bitmask of the boolean-valued properties, embedded in
// Device. Timeout-valued properties are stored separately since they carry
// a duration rather than a bit.
type propertyState uint32

func (s propertyState) has(p Property) bool {
	return s&(1<<uint(p)) != 0
}

func (s propertyState) set(p Property, enabled bool) propertyState {
	if enabled {
		return s | (1 << uint(p))
	}
	return s &^ (1 << uint(p))
}

// defaultPropertyState matches libnfc's nfc_open defaults: CRC and parity
// handled by the chip, field active, easy framing on.
func defaultPropertyState() propertyState {
	var s propertyState
	s = s.set(HandleCRC, true)
	s = s.set(HandleParity, true)
	s = s.set(ActivateField, true)
	s = s.set(EasyFraming, true)
	return s
}

// SetProperty enables or disables a boolean device property. Timeout
// properties (TimeoutCommand, TimeoutATR, TimeoutCom) must be set through
// SetPropertyInt instead and return ErrInvalidParameter here.
func (d *Device) SetProperty(ctx context.Context, prop Property, enabled bool) error {
	switch prop {
	case TimeoutCommand, TimeoutATR, TimeoutCom:
		return fmt.Errorf("%w: %s is a duration property, use SetPropertyInt", ErrInvalidParameter, prop)
	case ActivateField:
		return d.setActivateField(ctx, enabled)
	case ForceISO14443A, ForceISO14443B, ForceSpeed106:
		d.props = d.props.set(prop, enabled)
		return d.applyModulationForce(ctx)
	default:
		d.props = d.props.set(prop, enabled)
		return nil
	}
}

// PropertyEnabled reports whether a boolean property is currently set.
func (d *Device) PropertyEnabled(prop Property) bool {
	return d.props.has(prop)
}

// SetPropertyInt sets a duration-valued property in milliseconds, matching
// libnfc's nfc_device_set_property_int for the TIMEOUT_* family.
func (d *Device) SetPropertyInt(ctx context.Context, prop Property, milliseconds int) error {
	switch prop {
	case TimeoutCommand:
		d.timeoutCommandMS = milliseconds
		return d.pushTimeoutConfig(ctx)
	case TimeoutATR:
		d.timeoutATRMS = milliseconds
		return d.pushTimeoutConfig(ctx)
	case TimeoutCom:
		return d.SetTimeout(time.Duration(milliseconds) * time.Millisecond)
	default:
		return fmt.Errorf("%w: %s is not an int property", ErrInvalidParameter, prop)
	}
}

// setActivateField toggles the RF field via RFConfiguration item 0x01
// (payload 0x01 0x01 for on, 0x01 0x00 for off).
func (d *Device) setActivateField(ctx context.Context, enabled bool) error {
	d.props = d.props.set(ActivateField, enabled)
	payload := []byte{0x01, 0x00}
	if enabled {
		payload[1] = 0x01
	}
	_, err := d.transport.SendCommandWithContext(ctx, cmdRFConfiguration, payload)
	if err != nil {
		return fmt.Errorf("failed to set field state: %w", err)
	}
	return nil
}

// applyModulationForce sends nothing to the chip and returns nil. The
// ForceISO14443A/ForceISO14443B/ForceSpeed106 flags stay recorded in the
// property state only; no polling or ListPassiveTargets code reads them.
func (d *Device) applyModulationForce(_ context.Context) error {
	return nil
}

// pushTimeoutConfig writes RFConfiguration item 0x02 (MaxRtyCOM / timeouts).
func (d *Device) pushTimeoutConfig(ctx context.Context) error {
	payload := []byte{
		0x02,
		byte(d.timeoutATRMS / 100), //nolint:gosec // truncation matches PN532's 100ms timeout units
		byte(d.timeoutCommandMS / 100),
	}
	_, err := d.transport.SendCommandWithContext(ctx, cmdRFConfiguration, payload)
	if err != nil {
		return fmt.Errorf("failed to push timeout configuration: %w", err)
	}
	return nil
}

