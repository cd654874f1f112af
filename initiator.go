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
	"time"

	"github.com/nfc-tools/go-pn53x/internal/bitframe"
	"github.com/nfc-tools/go-pn53x/internal/frame"
)

// singleShotBaudRates are the modulations that never benefit from repeated
// InListPassiveTarget calls against the same field cycle: FeliCa and Jewel
// cards answer polling once per activation window, and ISO14443-B' targets
// (brTy 0x03) are commonly used for one-shot presence checks rather than
// continuous polling loops.
var singleShotBaudRates = map[byte]bool{
	0x01: true, // FeliCa 212 kbps
	0x02: true, // FeliCa 424 kbps
	0x03: true, // ISO14443-B'
	0x04: true, // Jewel/Topaz
}

// InitiatorInit brings the device up as an ISO14443/FeliCa initiator: it
// runs the same InitContext bring-up sequence used by the rest of the
// driver and then switches the RF field on. CRC and parity handling are not
// changed here; they keep the device's current property state (both on
// by default).
func (d *Device) InitiatorInit(ctx context.Context) error {
	if err := d.InitContext(ctx); err != nil {
		return fmt.Errorf("initiator init: %w", err)
	}
	if err := d.setActivateField(ctx, true); err != nil {
		return fmt.Errorf("initiator init: activate field: %w", err)
	}
	return nil
}

// SelectPassiveTarget lists exactly one passive target at the given
// modulation/baud rate (brTy, using the same InListPassiveTarget encoding
// as InListPassiveTarget) and decodes it into the tagged Target union. It
// returns ErrTagNotFound when the field is empty.
func (d *Device) SelectPassiveTarget(ctx context.Context, brTy byte) (*Target, error) {
	targets, err := d.ListPassiveTargets(ctx, brTy, 1)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrTagNotFound
	}
	return targets[0], nil
}

// ListPassiveTargets lists up to maxTargets passive targets at the given
// modulation/baud rate and decodes each into the tagged Target union,
// generalizing InListPassiveTarget's ISO14443-A-only DetectedTag decode to
// every family DecodeTargets understands.
//
// Per the PN532 datasheet, the chip itself terminates the polling cycle as
// soon as it observes the same card across repeated activation attempts, so
// callers do not need their own dedup loop; ListPassiveTargets simply
// forwards the chip's target count. FeliCa, Jewel, and ISO14443-B' requests
// are always sent as single-shot (maxTargets clamped to 1) since those
// families do not support anticollision across concurrently visible cards.
func (d *Device) ListPassiveTargets(ctx context.Context, brTy byte, maxTargets byte) ([]*Target, error) {
	if singleShotBaudRates[brTy] {
		maxTargets = 1
	}
	maxTargets = d.normalizeMaxTargets(maxTargets)

	data := []byte{maxTargets, brTy}
	res, err := d.executeInListPassiveTarget(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ListPassiveTargets: %w", err)
	}
	if err := d.validateInListPassiveTargetResponse(res); err != nil {
		return nil, err
	}
	return DecodeTargets(res, brTy)
}

// PollTarget wraps InAutoPoll, decoding each raw AutoPollResult into the
// tagged Target union via DecodeTargets so callers get the same value shape
// regardless of whether they polled via InListPassiveTarget or InAutoPoll.
func (d *Device) PollTarget(
	ctx context.Context, pollCount, pollPeriod byte, targetTypes []AutoPollTarget,
) ([]*Target, error) {
	results, err := d.InAutoPoll(ctx, pollCount, pollPeriod, targetTypes)
	if err != nil {
		return nil, fmt.Errorf("PollTarget: %w", err)
	}

	targets := make([]*Target, 0, len(results))
	for i, r := range results {
		brTy := autoPollTargetToBrTy(r.Type)
		res := append([]byte{0x4B, 0x01, byte(i + 1)}, r.TargetData...)
		decoded, err := DecodeTargets(res, brTy)
		if err != nil {
			return nil, fmt.Errorf("PollTarget: decode result %d: %w", i+1, err)
		}
		targets = append(targets, decoded...)
	}
	return targets, nil
}

// autoPollTargetToBrTy maps an InAutoPoll modulation byte to the
// InListPassiveTarget brTy value that decodes the same wire layout, so
// PollTarget can reuse DecodeTargets for both commands.
func autoPollTargetToBrTy(t AutoPollTarget) byte {
	switch t {
	case AutoPollGeneric106kbps, AutoPollMifare, AutoPollISO14443A:
		return 0x00
	case AutoPollGeneric212kbps, AutoPollFeliCa212:
		return 0x01
	case AutoPollGeneric424kbps, AutoPollFeliCa424:
		return 0x02
	case AutoPollISO14443B, AutoPollISO14443B4:
		return 0x03
	case AutoPollJewel:
		return 0x04
	default:
		return 0x00
	}
}

// TransceiveBytes exchanges a byte-aligned APDU with the currently selected
// target. It is a thin, better-named wrapper over SendDataExchangeContext,
// which already carries out InDataExchange framing, always addressed to
// target number 1.
func (d *Device) TransceiveBytes(ctx context.Context, tx []byte) ([]byte, error) {
	return d.SendDataExchangeContext(ctx, tx)
}

// TransceiveBits exchanges a non-byte-aligned frame (txBits < len(tx)*8)
// with the currently selected target, packing parity bits with
// internal/bitframe.WrapBits before sending and unpacking the response with
// bitframe.UnwrapBits. Most callers exchange full bytes and should use
// TransceiveBytes; TransceiveBits exists for ISO14443-A anticollision-level
// exchanges such as raw REQA/WUPA framing.
func (d *Device) TransceiveBits(ctx context.Context, tx []byte, txBits int) (rx []byte, rxBits int, err error) {
	wrapped := wrapBitsForTransceive(tx, txBits, d.props.has(HandleParity))
	if !d.props.has(HandleCRC) && txBits != bitframe.ShortFrameBits {
		wrapped = append(append([]byte(nil), wrapped...), frame.CRCA(wrapped)...)
	}

	res, err := d.SendRawCommandContext(ctx, wrapped)
	if err != nil {
		return nil, 0, err
	}

	if !d.props.has(HandleCRC) && txBits != bitframe.ShortFrameBits {
		res, err = verifyAndStripManualCRC(res)
		if err != nil {
			return nil, 0, err
		}
	}
	return unwrapBitsFromTransceive(res, d.props.has(HandleParity))
}

// verifyAndStripManualCRC checks and removes the CRC_A trailer a PICC
// appends to its response when HandleCRC is disabled and the chip is no
// longer computing CRC on the host's behalf.
func verifyAndStripManualCRC(res []byte) ([]byte, error) {
	if len(res) < 2 {
		return nil, fmt.Errorf("%w: response too short for CRC_A trailer", ErrChecksumMismatch)
	}
	body := res[:len(res)-2]
	want := frame.CRCA(body)
	if res[len(res)-2] != want[0] || res[len(res)-1] != want[1] {
		return nil, fmt.Errorf("%w: response CRC_A mismatch", ErrChecksumMismatch)
	}
	return body, nil
}

// TransceiveBitsTimed behaves like TransceiveBits under a context bounded by
// timeout, and additionally reports the wall-clock time the TransceiveBits
// call took.
func (d *Device) TransceiveBitsTimed(
	ctx context.Context, tx []byte, txBits int, timeout time.Duration,
) (rx []byte, rxBits int, elapsed time.Duration, err error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rx, rxBits, err = d.TransceiveBits(deadline, tx, txBits)
	elapsed = time.Since(start)
	return rx, rxBits, elapsed, err
}

// wrapBitsForTransceive packs a bit-oriented frame for InCommunicateThru.
// The 7-bit REQA/WUPA short frame always passes through unmodified, since
// ISO14443-A anticollision never attaches parity to it. Otherwise, when the
// chip is handling per-byte parity itself (handleParity true) the byte
// stream also passes through unmodified; only when the host must supply
// parity is bitframe.WrapBits's bit-reversal and parity-interleaving
// actually applied, using the standard ISO14443-A odd parity of each byte.
func wrapBitsForTransceive(tx []byte, txBits int, handleParity bool) []byte {
	if txBits == bitframe.ShortFrameBits || handleParity {
		return append([]byte(nil), tx...)
	}
	return bitframe.WrapBits(tx, bitframe.OddParityStream(tx))
}

// unwrapBitsFromTransceive recovers the data bytes from an InCommunicateThru
// response. When the chip already stripped per-byte parity (handleParity
// true), the response is already byte-aligned data and passes through
// unmodified; otherwise it is the raw air-interface bit stream and must be
// decoded with bitframe.UnwrapBits, whose recovered parity bits the caller
// has no use for. The PN532 does not report a separate bit count for
// InCommunicateThru responses, so TransceiveBits reports the full
// byte-aligned length of what came back.
func unwrapBitsFromTransceive(res []byte, handleParity bool) (rx []byte, rxBits int, err error) {
	if handleParity {
		return res, len(res) * 8, nil
	}
	data, _ := bitframe.UnwrapBits(res)
	return data, len(data) * 8, nil
}

// DeselectTarget puts the given target into the HALT state without
// releasing the RF field, using InDeselect (0x44) rather than InRelease
// (0x52): a deselected target can be reselected with InSelect, while a
// released one requires a fresh polling cycle.
func (d *Device) DeselectTarget(ctx context.Context, targetNumber byte) error {
	res, err := d.transport.SendCommandWithContext(ctx, cmdInDeselect, []byte{targetNumber})
	if err != nil {
		return fmt.Errorf("InDeselect command failed: %w", err)
	}
	if len(res) != 2 || res[0] != 0x45 {
		return errors.New("unexpected InDeselect response")
	}
	if status := maskChipStatus(res[1]); status != 0x00 {
		return fmt.Errorf("InDeselect failed with status: %02x", status)
	}
	return nil
}

// AbortCommand releases every currently held target, unblocking a caller
// stuck in a long-running exchange. Context cancellation is still the
// primary way to abort an in-flight SendCommandWithContext call; AbortCommand
// additionally clears the chip's target-selection state so the next
// operation starts from a known baseline.
func (d *Device) AbortCommand(ctx context.Context) error {
	if err := d.InRelease(ctx, 0x00); err != nil {
		return fmt.Errorf("AbortCommand: %w", err)
	}
	return nil
}
