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

import (
	"reflect"
	"testing"
)

func TestStripCascadeTag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		uid  []byte
		want []byte
	}{
		{
			name: "four byte UID passes through",
			uid:  []byte{0x01, 0x02, 0x03, 0x04},
			want: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "seven byte UID strips single cascade tag",
			uid:  []byte{0x88, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
			want: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		},
		{
			name: "ten byte UID strips two cascade tags",
			uid: []byte{
				0x88, 0x01, 0x02, 0x03,
				0x88, 0x04, 0x05, 0x06,
				0x07, 0x08, 0x09, 0x0A,
			},
			want: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A},
		},
		{
			name: "eight byte UID without cascade marker is untouched",
			uid:  []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			want: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		},
		{
			name: "twelve byte UID missing second marker is untouched",
			uid: []byte{
				0x88, 0x01, 0x02, 0x03,
				0x04, 0x05, 0x06, 0x07,
				0x08, 0x09, 0x0A, 0x0B,
			},
			want: []byte{
				0x88, 0x01, 0x02, 0x03,
				0x04, 0x05, 0x06, 0x07,
				0x08, 0x09, 0x0A, 0x0B,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripCascadeTag(tt.uid); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StripCascadeTag(%v) = %v, want %v", tt.uid, got, tt.want)
			}
		})
	}
}
