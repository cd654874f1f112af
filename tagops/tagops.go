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

package tagops

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfc-tools/go-pn53x"
)

var (
	// ErrNoTag indicates no tag was detected
	ErrNoTag = errors.New("no tag detected")
	// ErrUnsupportedTag indicates the tag type is not supported
	ErrUnsupportedTag = errors.New("unsupported tag type")
	// ErrAuthFailed indicates all authentication attempts failed
	ErrAuthFailed = errors.New("authentication failed with all known keys")
)

// TagType represents the type of NFC tag
type TagType int

const (
	// TagTypeUnknown represents an unknown or unsupported tag type
	TagTypeUnknown TagType = iota
	// TagTypeNTAG represents an NTAG2xx series tag
	TagTypeNTAG
	// TagTypeMIFARE represents a MIFARE Classic tag
	TagTypeMIFARE
)

// TagOperations provides unified high-level tag operations
type TagOperations struct {
	// Core fields - group pointers together
	device         *pn53x.Device
	tag            *pn53x.DetectedTag
	ntagInstance   *pn53x.NTAGTag
	mifareInstance *pn53x.MIFARETag

	// Enum and int fields - group together for better alignment
	tagType    TagType
	totalPages int
}

// New creates a new TagOperations instance
func New(device *pn53x.Device) *TagOperations {
	return &TagOperations{
		device: device,
	}
}

// DetectTag detects and initializes a tag for operations.
// This must be called before any read/write operations.
func (t *TagOperations) DetectTag(ctx context.Context) error {
	// Detect tag
	tag, err := t.device.DetectTag(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect tag: %w", err)
	}

	t.tag = tag

	// Determine tag type and initialize appropriate handler
	return t.detectAndInitializeTag(ctx)
}

// GetTagType returns the detected tag type
func (t *TagOperations) GetTagType() TagType {
	return t.tagType
}

// TagType returns the detected tag type (alias for GetTagType)
func (t *TagOperations) TagType() TagType {
	return t.tagType
}

// GetUID returns the tag's UID
func (t *TagOperations) GetUID() []byte {
	if t.tag == nil {
		return nil
	}
	return t.tag.UIDBytes
}

// detectAndInitializeTag determines the tag type and sets up the appropriate handler
func (t *TagOperations) detectAndInitializeTag(ctx context.Context) error {
	if t.tag == nil {
		return ErrNoTag
	}

	// Try NTAG detection first
	ntag := pn53x.NewNTAGTag(t.device, t.tag.UIDBytes, t.tag.SAK)
	if err := ntag.DetectType(ctx); err == nil {
		t.tagType = TagTypeNTAG
		t.ntagInstance = ntag
		t.totalPages = int(ntag.GetTotalPages())
		return nil
	}

	// Try MIFARE detection
	mifare := pn53x.NewMIFARETag(t.device, t.tag.UIDBytes, t.tag.SAK)
	// Try to authenticate with common keys to verify it's MIFARE
	if t.tryMIFAREAuth(ctx, mifare) {
		t.tagType = TagTypeMIFARE
		t.mifareInstance = mifare
		return nil
	}

	return ErrUnsupportedTag
}

// tryMIFAREAuth attempts to read a block to verify MIFARE functionality
func (*TagOperations) tryMIFAREAuth(ctx context.Context, mifare *pn53x.MIFARETag) bool {
	// Try to read block 4 (first block of sector 1) using automatic authentication
	// with the well-known shared key for provisioned tags.
	_, err := mifare.ReadBlockAuto(ctx, 4)
	return err == nil
}
