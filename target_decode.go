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
	"fmt"

	"github.com/nfc-tools/go-pn53x/internal/frame"
)

// TargetType identifies which member of a Target tagged union is populated,
// generalizing the ATQ/SAK-only decode device_context.go's
// parseInListTargetData performs for ISO14443-A to every InListPassiveTarget/
// InAutoPoll modulation family.
type TargetType int

const (
	// TargetTypeISO14443A is a passive ISO14443-A target (the family the
	// teacher's InListPassiveTarget parsing already covers).
	TargetTypeISO14443A TargetType = iota
	// TargetTypeISO14443B is a passive ISO14443-B target.
	TargetTypeISO14443B
	// TargetTypeFeliCa is a passive FeliCa target.
	TargetTypeFeliCa
	// TargetTypeJewel is a passive Innovision Jewel/Topaz target.
	TargetTypeJewel
	// TargetTypeDEP is an NFCIP-1 peer found via InJumpForDEP/ATR.
	TargetTypeDEP
)

// TargetISO14443A holds the fields the PN532 returns for a 106 kbps
// ISO14443-A target: ATQA, SAK, UID, and an optional ATS from InSelect.
type TargetISO14443A struct {
	ATQA []byte
	UID  []byte
	ATS  []byte
	SAK  byte
}

// TargetISO14443B holds an ISO14443-B target's ATQB and higher-layer
// response bytes.
type TargetISO14443B struct {
	ATQB     []byte
	AttribRB []byte
}

// TargetFeliCa holds a FeliCa target's manufacture ID/parameter and the
// system code it was found under, mirroring FeliCaTag's fields.
type TargetFeliCa struct {
	IDm        []byte
	PMm        []byte
	SystemCode uint16
}

// TargetJewel holds a Jewel/Topaz target's ATQJ and 4-byte serial number.
type TargetJewel struct {
	ATQJ []byte
	ID   []byte
}

// TargetDEP holds the fields exchanged during ATR for an NFCIP-1 peer,
// used by dep.go.
type TargetDEP struct {
	NFCID3       []byte
	GeneralBytes []byte
	DID          byte
}

// Target is the tagged union produced by DecodeTargets, replacing
// DetectedTag for callers that need the full protocol-level payload rather
// than the Device.DetectTag convenience projection.
type Target struct {
	ISO14443A    *TargetISO14443A
	ISO14443B    *TargetISO14443B
	FeliCa       *TargetFeliCa
	Jewel        *TargetJewel
	DEP          *TargetDEP
	Type         TargetType
	TargetNumber byte
}

// DecodeTargets parses an InListPassiveTarget response body (res[0] is the
// response code, res[1] the target count) into a slice of Target, dispatched
// by the baud/modulation byte (brTy) the request was issued with.
func DecodeTargets(res []byte, brTy byte) ([]*Target, error) {
	if len(res) < 2 {
		return nil, fmt.Errorf("%w: InListPassiveTarget response too short", ErrInvalidResponse)
	}
	count := int(res[1])
	targets := make([]*Target, 0, count)
	offset := 2

	for i := 0; i < count; i++ {
		if offset >= len(res) {
			return nil, fmt.Errorf("response truncated when expecting target %d", i+1)
		}
		targetNumber := res[offset]
		offset++

		t, newOffset, err := decodeOneTarget(res, offset, brTy)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		t.TargetNumber = targetNumber
		targets = append(targets, t)
		offset = newOffset
	}
	return targets, nil
}

func decodeOneTarget(res []byte, offset int, brTy byte) (*Target, int, error) {
	switch brTy {
	case 0x00, 0x20: // 106 kbps ISO14443-A / generic 106
		return decodeISO14443A(res, offset)
	case 0x03, 0x23: // 106 kbps ISO14443-B
		return decodeISO14443B(res, offset)
	case 0x01, 0x02, 0x11, 0x12: // 212/424 kbps FeliCa
		return decodeFeliCa(res, offset)
	case 0x04: // Innovision Jewel
		return decodeJewel(res, offset)
	default:
		return decodeISO14443A(res, offset)
	}
}

func decodeISO14443A(res []byte, offset int) (*Target, int, error) {
	if offset+2 > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated SENS_RES", ErrInvalidResponse)
	}
	atqa := append([]byte(nil), res[offset:offset+2]...)
	offset += 2

	// PN531 quirk: some firmware revisions report the ATQA byte-swapped
	// relative to the PN532 order the rest of this driver assumes.
	atqa = normalizeATQAByteOrder(atqa)

	if offset >= len(res) {
		return nil, 0, fmt.Errorf("%w: truncated SEL_RES", ErrInvalidResponse)
	}
	sak := res[offset]
	offset++

	if offset >= len(res) {
		return nil, 0, fmt.Errorf("%w: truncated UID length", ErrInvalidResponse)
	}
	uidLen := int(res[offset])
	offset++

	if offset+uidLen > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated UID", ErrInvalidResponse)
	}
	uid := frame.StripCascadeTag(append([]byte(nil), res[offset:offset+uidLen]...))
	offset += uidLen

	return &Target{
		Type: TargetTypeISO14443A,
		ISO14443A: &TargetISO14443A{
			ATQA: atqa,
			SAK:  sak,
			UID:  uid,
		},
	}, offset, nil
}

func decodeISO14443B(res []byte, offset int) (*Target, int, error) {
	// ATQB is a fixed 12-byte structure (ATQB response minus the 0x50 prefix).
	const atqbLen = 12
	if offset+atqbLen > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated ATQB", ErrInvalidResponse)
	}
	atqb := append([]byte(nil), res[offset:offset+atqbLen]...)
	offset += atqbLen

	if offset >= len(res) {
		return &Target{Type: TargetTypeISO14443B, ISO14443B: &TargetISO14443B{ATQB: atqb}}, offset, nil
	}
	attribLen := int(res[offset])
	offset++
	if offset+attribLen > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated ATTRIB response", ErrInvalidResponse)
	}
	attrib := append([]byte(nil), res[offset:offset+attribLen]...)
	offset += attribLen

	return &Target{
		Type:      TargetTypeISO14443B,
		ISO14443B: &TargetISO14443B{ATQB: atqb, AttribRB: attrib},
	}, offset, nil
}

func decodeFeliCa(res []byte, offset int) (*Target, int, error) {
	if offset >= len(res) {
		return nil, 0, fmt.Errorf("%w: truncated POL_RES length", ErrInvalidResponse)
	}
	polLen := int(res[offset])
	offset++
	if offset+polLen > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated POL_RES", ErrInvalidResponse)
	}
	pol := res[offset : offset+polLen]
	offset += polLen

	if len(pol) < 17 {
		return nil, 0, fmt.Errorf("%w: POL_RES too short for IDm/PMm", ErrInvalidResponse)
	}
	idm := append([]byte(nil), pol[1:9]...)
	pmm := append([]byte(nil), pol[9:17]...)

	systemCode := uint16(feliCaSystemCodeWildcard)
	if len(pol) >= 19 {
		systemCode = uint16(pol[17])<<8 | uint16(pol[18])
	}

	return &Target{
		Type: TargetTypeFeliCa,
		FeliCa: &TargetFeliCa{
			IDm:        idm,
			PMm:        pmm,
			SystemCode: systemCode,
		},
	}, offset, nil
}

func decodeJewel(res []byte, offset int) (*Target, int, error) {
	if offset+2 > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated ATQJ", ErrInvalidResponse)
	}
	atqj := append([]byte(nil), res[offset:offset+2]...)
	offset += 2

	const jewelIDLen = 4
	if offset+jewelIDLen > len(res) {
		return nil, 0, fmt.Errorf("%w: truncated Jewel ID", ErrInvalidResponse)
	}
	id := append([]byte(nil), res[offset:offset+jewelIDLen]...)
	offset += jewelIDLen

	return &Target{
		Type:  TargetTypeJewel,
		Jewel: &TargetJewel{ATQJ: atqj, ID: id},
	}, offset, nil
}

// normalizeATQAByteOrder corrects the PN531 ATQA byte-swap quirk: some
// PN531 firmware revisions return SENS_RES most-significant-byte first
// instead of the PN532's little-endian order. A swap is detected when the
// high nibble of the first byte looks like an RFU bit pattern that never
// appears in a real ATQA's low byte.
func normalizeATQAByteOrder(atqa []byte) []byte {
	if len(atqa) != 2 {
		return atqa
	}
	if atqa[0]&0x1F == 0 && atqa[1] != 0 {
		return []byte{atqa[1], atqa[0]}
	}
	return atqa
}
