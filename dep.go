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
)

// DEPMode selects active or passive initialization for InJumpForDEP/
// InJumpForPSL, mirroring the PN532 datasheet's ActPass argument.
type DEPMode byte

const (
	// DEPModeActive drives the RF field itself during activation.
	DEPModeActive DEPMode = 0x00
	// DEPModePassive waits for the peer's field before answering.
	DEPModePassive DEPMode = 0x01
)

// DEPBaudRate selects the initial communication speed for InJumpForDEP.
type DEPBaudRate byte

const (
	DEPBaudRate106 DEPBaudRate = 0x00
	DEPBaudRate212 DEPBaudRate = 0x01
	DEPBaudRate424 DEPBaudRate = 0x02
)

// ATR holds the fields negotiated during NFCIP-1 activation: the answer to
// InJumpForDEP/InJumpForPSL that establishes a DEP peer link.
type ATR struct {
	NFCID3       []byte
	GeneralBytes []byte
	DID          byte
	BSt          byte
	BRt          byte
	TO           byte
	PPt          byte
}

// depState remembers the last ATR this device negotiated so InATR has
// something to report without re-issuing a command the peer link does not
// expect to see repeated.
type depState struct {
	lastATR *ATR
	target  byte
}

// InJumpForDEP activates an NFCIP-1 peer at the given mode/baud rate and
// returns the peer's ATR. generalBytes are the caller's own general bytes
// (Gi), sent to the peer during activation; nfcid3 may be nil to let the
// chip generate one.
func (d *Device) InJumpForDEP(
	ctx context.Context, mode DEPMode, baud DEPBaudRate, nfcid3, generalBytes []byte,
) (*ATR, error) {
	data := []byte{byte(mode), byte(baud)}

	var next byte
	if len(nfcid3) > 0 {
		next |= 0x02
	}
	if len(generalBytes) > 0 {
		next |= 0x04
	}
	data = append(data, next)

	if len(nfcid3) > 0 {
		data = append(data, padTo(nfcid3, 10)...)
	}
	data = append(data, generalBytes...)

	res, err := d.transport.SendCommandWithContext(ctx, cmdInJumpForDEP, data)
	if err != nil {
		return nil, fmt.Errorf("InJumpForDEP failed: %w", err)
	}
	return d.parseDEPActivationResponse(res, 0x57, "InJumpForDEP")
}

// InJumpForPSL behaves like InJumpForDEP but additionally negotiates a
// post-activation baud rate switch (PSL_REQ), matching the datasheet's
// InJumpForPSL command.
func (d *Device) InJumpForPSL(
	ctx context.Context, mode DEPMode, baud DEPBaudRate, nfcid3, generalBytes []byte,
) (*ATR, error) {
	data := []byte{byte(mode), byte(baud)}

	var next byte
	if len(nfcid3) > 0 {
		next |= 0x02
	}
	if len(generalBytes) > 0 {
		next |= 0x04
	}
	data = append(data, next)

	if len(nfcid3) > 0 {
		data = append(data, padTo(nfcid3, 10)...)
	}
	data = append(data, generalBytes...)

	res, err := d.transport.SendCommandWithContext(ctx, cmdInJumpForPSL, data)
	if err != nil {
		return nil, fmt.Errorf("InJumpForPSL failed: %w", err)
	}
	return d.parseDEPActivationResponse(res, 0x47, "InJumpForPSL")
}

func (d *Device) parseDEPActivationResponse(res []byte, expectedCode byte, op string) (*ATR, error) {
	if len(res) < 2 || res[0] != expectedCode {
		return nil, fmt.Errorf("unexpected %s response", op)
	}
	if status := maskChipStatus(res[1]); status != 0x00 {
		return nil, fmt.Errorf("%s failed with status: %02x", op, status)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("%s: response missing target number", op)
	}
	d.dep.target = res[2]

	offset := 3
	if offset+10 > len(res) {
		return nil, fmt.Errorf("%s: response truncated at NFCID3t", op)
	}
	nfcid3 := append([]byte(nil), res[offset:offset+10]...)
	offset += 10

	if offset+4 > len(res) {
		return nil, fmt.Errorf("%s: response truncated at DIDt/BSt/BRt/TO", op)
	}
	did := res[offset]
	bst := res[offset+1]
	brt := res[offset+2]
	to := res[offset+3]
	offset += 4

	var ppt byte
	var generalBytes []byte
	if offset < len(res) {
		ppt = res[offset]
		offset++
		generalBytes = append([]byte(nil), res[offset:]...)
	}

	atr := &ATR{
		NFCID3:       nfcid3,
		DID:          did,
		BSt:          bst,
		BRt:          brt,
		TO:           to,
		PPt:          ppt,
		GeneralBytes: generalBytes,
	}
	d.dep.lastATR = atr
	return atr, nil
}

// InPSL renegotiates the DEP link's baud rate after activation, sending a
// PSL_REQ for the target set by InJumpForDEP/InJumpForPSL.
func (d *Device) InPSL(ctx context.Context, brIt, brTi DEPBaudRate) error {
	res, err := d.transport.SendCommandWithContext(
		ctx, cmdInPSL, []byte{d.dep.target, byte(brIt), byte(brTi)},
	)
	if err != nil {
		return fmt.Errorf("InPSL failed: %w", err)
	}
	if len(res) != 2 || res[0] != 0x4F {
		return errors.New("unexpected InPSL response")
	}
	if status := maskChipStatus(res[1]); status != 0x00 {
		return fmt.Errorf("InPSL failed with status: %02x", status)
	}
	return nil
}

// InATR returns the ATR negotiated by the most recent InJumpForDEP or
// InJumpForPSL call. Unlike the other Device methods it issues no command
// of its own: NFCIP-1 activation returns the ATR inline, so there is
// nothing left to fetch afterward.
func (d *Device) InATR() (*ATR, error) {
	if d.dep.lastATR == nil {
		return nil, errors.New("no DEP link has been activated yet")
	}
	return d.dep.lastATR, nil
}
