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

package pn53x

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPassiveTargetFound(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInListPassiveTarget, []byte{
		0x4B, 0x01, 0x01,
		0x00, 0x04, 0x08, 0x04,
		0x12, 0x34, 0x56, 0x78,
	})

	device, err := New(mock)
	require.NoError(t, err)

	tgt, err := device.SelectPassiveTarget(context.Background(), 0x00)
	require.NoError(t, err)
	require.NotNil(t, tgt.ISO14443A)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, tgt.ISO14443A.UID)
}

func TestSelectPassiveTargetNotFound(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInListPassiveTarget, []byte{0x4B, 0x00})

	device, err := New(mock)
	require.NoError(t, err)

	_, err = device.SelectPassiveTarget(context.Background(), 0x00)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTagNotFound)
}

func TestListPassiveTargetsClampsSingleShotBaudRate(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInListPassiveTarget, []byte{0x4B, 0x00})

	device, err := New(mock)
	require.NoError(t, err)

	// FeliCa 212 kbps (0x01) is a single-shot baud rate: even asking for 2
	// targets must be clamped to 1 before the command goes out.
	_, err = device.ListPassiveTargets(context.Background(), 0x01, 2)
	require.NoError(t, err)
}

func TestPollTargetDecodesResults(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInAutoPoll, []byte{
		0x61,
		0x01,
		byte(AutoPollISO14443A), 0x08, // target type, data length
		0x00, 0x04, 0x08, 0x04, 0x11, 0x22, 0x33, 0x44,
	})

	device, err := New(mock)
	require.NoError(t, err)

	targets, err := device.PollTarget(context.Background(), 5, 1, []AutoPollTarget{AutoPollISO14443A})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, TargetTypeISO14443A, targets[0].Type)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, targets[0].ISO14443A.UID)
}

func TestTransceiveBytes(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInDataExchange, []byte{0x41, 0x00, 0xAA, 0xBB})

	device, err := New(mock)
	require.NoError(t, err)

	res, err := device.TransceiveBytes(context.Background(), []byte{0x00, 0xB2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, res)
}

func TestDeselectTargetSuccess(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInDeselect, []byte{0x45, 0x00})

	device, err := New(mock)
	require.NoError(t, err)

	err = device.DeselectTarget(context.Background(), 0x01)
	require.NoError(t, err)
}

func TestDeselectTargetFailureStatus(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInDeselect, []byte{0x45, 0x27})

	device, err := New(mock)
	require.NoError(t, err)

	err = device.DeselectTarget(context.Background(), 0x01)
	require.Error(t, err)
}

func TestAbortCommandCallsInRelease(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInRelease, []byte{0x53, 0x00})

	device, err := New(mock)
	require.NoError(t, err)

	err = device.AbortCommand(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.GetCallCount(cmdInRelease))
}

func TestTransceiveBitsShortFrame(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInCommunicateThru, []byte{0x43, 0x00, 0x04, 0x00})

	device, err := New(mock)
	require.NoError(t, err)

	rx, rxBits, err := device.TransceiveBits(context.Background(), []byte{0x26}, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00}, rx)
	assert.Equal(t, 16, rxBits)
}

func TestTransceiveBitsHandleCRCDisabledStripsResponseCRC(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInCommunicateThru, []byte{0x43, 0x00, 0x04, 0x00, 0xC0, 0x79})

	device, err := New(mock)
	require.NoError(t, err)
	require.NoError(t, device.SetProperty(context.Background(), HandleCRC, false))

	rx, rxBits, err := device.TransceiveBits(context.Background(), []byte{0x93, 0x20}, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00}, rx)
	assert.Equal(t, 16, rxBits)
}

func TestTransceiveBitsHandleParityDisabledDecodesResponse(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	// Wire bytes are wrap_bits([0xAA, 0x55], parity=[1, 1]): each data byte
	// mirrored with its parity bit appended, packed MSB-first, then the
	// whole packed buffer mirrored again before transmission.
	mock.SetResponse(cmdInCommunicateThru, []byte{0x43, 0x00, 0xAA, 0xAB, 0x02})

	device, err := New(mock)
	require.NoError(t, err)
	require.NoError(t, device.SetProperty(context.Background(), HandleParity, false))

	rx, rxBits, err := device.TransceiveBits(context.Background(), []byte{0xAA, 0x55}, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x55}, rx)
	assert.Equal(t, 16, rxBits)
}

func TestTransceiveBitsHandleCRCDisabledRejectsBadCRC(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponse(cmdInCommunicateThru, []byte{0x43, 0x00, 0x04, 0x00, 0x00, 0x00})

	device, err := New(mock)
	require.NoError(t, err)
	require.NoError(t, device.SetProperty(context.Background(), HandleCRC, false))

	_, _, err = device.TransceiveBits(context.Background(), []byte{0x93, 0x20}, 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
