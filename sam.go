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

// SAMMode selects the PN532's Secure Access Module configuration: how the
// chip's S2C interface relates to an attached SAM, per SAMConfiguration
// (0x14) of the PN532 User Manual.
type SAMMode byte

const (
	// SAMModeNormal disables the SAM interface entirely (default).
	SAMModeNormal SAMMode = 0x01
	// SAMModeVirtualCard powers the SAM and virtualizes it as a contactless
	// card to the outside world. Requires a nonzero timeout.
	SAMModeVirtualCard SAMMode = 0x02
	// SAMModeWiredCard exposes the SAM to the host as a wired smart card.
	SAMModeWiredCard SAMMode = 0x03
	// SAMModeDualCard lets the host and the SAM both talk to the RF field.
	SAMModeDualCard SAMMode = 0x04
)

func (m SAMMode) String() string {
	switch m {
	case SAMModeNormal:
		return "normal"
	case SAMModeVirtualCard:
		return "virtual-card"
	case SAMModeWiredCard:
		return "wired-card"
	case SAMModeDualCard:
		return "dual-card"
	default:
		return "unknown"
	}
}

// requiresTimeout reports whether mode needs a nonzero timeout argument:
// only virtual card mode uses it, to bound how long the PN532 waits for the
// SAM to answer before giving up and reverting to normal mode.
func (m SAMMode) requiresTimeout() bool {
	return m == SAMModeVirtualCard
}
