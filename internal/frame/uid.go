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

// cascadeTag is the ISO14443-3 cascade tag byte (0x88) a PICC prefixes to
// each non-final UID part when its UID is longer than 4 bytes.
const cascadeTag = 0x88

// StripCascadeTag removes ISO14443-3 cascade tag bytes from a UID as
// reported directly off the wire by InListPassiveTarget, so callers see the
// PICC's real 4/7/10-byte UID rather than the cascaded on-air encoding.
//
// A cascaded UID arrives as consecutive 4-byte parts, each non-final part
// prefixed with cascadeTag: a 7-byte UID is transmitted as
// [0x88 u0 u1 u2] [u3 u4 u5 u6], a 10-byte UID as
// [0x88 u0 u1 u2] [0x88 u3 u4 u5] [u6 u7 u8 u9].
func StripCascadeTag(uid []byte) []byte {
	switch len(uid) {
	case 8:
		if uid[0] == cascadeTag {
			out := make([]byte, 0, 7)
			out = append(out, uid[1:4]...)
			out = append(out, uid[4:8]...)
			return out
		}
	case 12:
		if uid[0] == cascadeTag && uid[4] == cascadeTag {
			out := make([]byte, 0, 10)
			out = append(out, uid[1:4]...)
			out = append(out, uid[5:8]...)
			out = append(out, uid[8:12]...)
			return out
		}
	}
	return uid
}
