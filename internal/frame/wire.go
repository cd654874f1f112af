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

package frame

import "errors"

// ErrFrameTooLarge is returned by Wrap when the data portion of a frame
// would exceed the standard (non-extended) frame's single-byte length field.
var ErrFrameTooLarge = errors.New("frame: data too large for standard frame")

// ErrMalformedFrame is returned by Unwrap when a buffer does not hold a
// complete, well-formed standard information frame.
var ErrMalformedFrame = errors.New("frame: malformed")

// Wrap builds a complete standard PN532 information frame around tfi, cmd,
// and args: preamble, start code, LEN/LCS, TFI, the command/status byte,
// the argument bytes, DCS, and postamble. It is the pure counterpart to
// each transport's inline frame construction, usable by any transport that
// speaks the standard (non-extended) frame format.
func Wrap(tfi, cmd byte, args []byte) ([]byte, error) {
	dataLen := 2 + len(args)
	if dataLen > 255 {
		return nil, ErrFrameTooLarge
	}

	frm := make([]byte, 0, 3+2+dataLen+2)
	frm = append(frm, Preamble, StartCode1, StartCode2)
	frm = append(frm, byte(dataLen), ^byte(dataLen)+1)
	frm = append(frm, tfi, cmd)
	frm = append(frm, args...)

	dcs := tfi + cmd
	for _, b := range args {
		dcs += b
	}
	frm = append(frm, ^dcs+1, Postamble)
	return frm, nil
}

// Unwrap parses a complete standard information frame starting at frm[0]
// (the leading 0x00 0x00 0xFF start code) and returns its TFI byte and its
// data bytes (the command/status byte plus payload), verifying the LEN/LCS
// pair and the DCS trailer. It does not skip leading garbage; callers that
// read from a noisy stream locate the start code themselves before calling
// Unwrap on the frame it introduces.
func Unwrap(frm []byte) (tfi byte, data []byte, err error) {
	if len(frm) < MinFrameLength {
		return 0, nil, ErrMalformedFrame
	}
	if frm[0] != StartCode1 || frm[1] != StartCode1 || frm[2] != StartCode2 {
		return 0, nil, ErrMalformedFrame
	}

	frameLen := int(frm[3])
	lcs := frm[4]
	if ((frameLen + int(lcs)) & 0xFF) != 0 {
		return 0, nil, ErrMalformedFrame
	}
	if frameLen == 0 {
		return 0, nil, ErrMalformedFrame
	}

	dataEnd := 5 + frameLen
	if len(frm) < dataEnd+1 {
		return 0, nil, ErrMalformedFrame
	}
	if ValidateFrameChecksum(frm, 5, dataEnd+1) {
		return 0, nil, ErrMalformedFrame
	}

	return frm[5], frm[6:dataEnd], nil
}

// RecognizeExtended reports whether the length field starting at buf[off]
// is the two-byte extended-length marker (LEN = 0xFF 0xFF) the standard
// reserves for frames whose data exceeds 255 bytes, rather than an ordinary
// single-byte LEN.
func RecognizeExtended(buf []byte, off int) bool {
	return off >= 0 && off+1 < len(buf) && buf[off] == 0xFF && buf[off+1] == 0xFF
}

// WaitAck reports whether buf holds a valid PN532 ACK frame.
func WaitAck(buf []byte) bool {
	if len(buf) < len(AckFrame) {
		return false
	}
	for i, b := range AckFrame {
		if buf[i] != b {
			return false
		}
	}
	return true
}

// SendNack returns the bytes of a NACK frame, which a transport writes to
// ask the PN532 to retransmit its last response. Callers enforce their own
// retry ceiling around it; the PN532 datasheet does not itself bound how
// many NACKs a host may send.
func SendNack() []byte {
	return append([]byte(nil), NackFrame...)
}
