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

// WriteBlocks writes data to the tag starting at the specified block.
// For NTAG tags, it writes directly.
// For MIFARE tags, it handles authentication transparently.
// The data will be written in chunks appropriate to the tag type.
func (t *TagOperations) WriteBlocks(ctx context.Context, startBlock byte, data []byte) error {
	if t.tag == nil {
		return ErrNoTag
	}

	switch t.tagType {
	case pn53x.TagTypeNTAG:
		return t.writeNTAGBlocks(ctx, startBlock, data)
	case pn53x.TagTypeMIFARE:
		return t.writeMIFAREBlocks(ctx, startBlock, data)
	case pn53x.TagTypeUnknown, pn53x.TagTypeFeliCa, pn53x.TagTypeAny:
		return ErrUnsupportedTag
	}
	return ErrUnsupportedTag
}

// writeNTAGBlocks writes blocks to NTAG
func (t *TagOperations) writeNTAGBlocks(_ context.Context, startBlock byte, data []byte) error {
	// Convert block to page
	startPage := startBlock

	// Validate we're not writing to restricted pages
	if startPage < 4 {
		return errors.New("cannot write to restricted pages (0-3)")
	}

	// Calculate how many pages we need to write
	numPages := (len(data) + 3) / 4 // Round up to nearest page

	// Validate we don't exceed tag capacity
	if int(startPage)+numPages > t.totalPages {
		return errors.New("write would exceed tag capacity")
	}

	// Write page by page (NTAG doesn't support multi-page write)
	for i := range numPages {
		page := startPage + byte(i)

		// Get 4 bytes for this page (pad with zeros if necessary)
		pageData := make([]byte, 4)
		dataStart := i * 4
		dataEnd := dataStart + 4
		if dataEnd > len(data) {
			dataEnd = len(data)
		}
		copy(pageData, data[dataStart:dataEnd])

		// Write command: 0xA2 page data[4]
		cmd := append([]byte{0xA2, page}, pageData...)
		_, err := t.device.SendDataExchangeContext(context.Background(), cmd)
		if err != nil {
			return fmt.Errorf("failed to write page %d: %w", page, err)
		}
	}

	return nil
}

// writeMIFAREBlocks writes blocks to MIFARE Classic with automatic authentication
func (t *TagOperations) writeMIFAREBlocks(ctx context.Context, startBlock byte, data []byte) error {
	// Authentication is handled automatically by WriteBlockAuto

	// Validate we're not writing to restricted blocks
	if startBlock == 0 {
		return errors.New("cannot write to manufacturer block (0)")
	}

	// Calculate how many blocks we need to write
	numBlocks := (len(data) + 15) / 16 // Round up to nearest block

	// Write block by block
	for i := range numBlocks {
		block := startBlock + byte(i)

		// Skip trailer blocks (every 4th block in each sector)
		if (block+1)%4 == 0 && block != 0 {
			continue
		}

		// Get 16 bytes for this block (pad with zeros if necessary)
		blockData := make([]byte, 16)
		dataStart := i * 16
		dataEnd := dataStart + 16
		if dataEnd > len(data) {
			dataEnd = len(data)
		}
		copy(blockData, data[dataStart:dataEnd])

		// WriteBlockAuto handles authentication automatically
		err := t.mifareInstance.WriteBlockAuto(ctx, block, blockData)
		if err != nil {
			return fmt.Errorf("failed to write block %d: %w", block, err)
		}
	}

	return nil
}

// EraseBlocks writes zeros to the specified block range
func (t *TagOperations) EraseBlocks(ctx context.Context, startBlock, endBlock byte) error {
	numBlocks := int(endBlock - startBlock + 1)
	blockSize := 16 // MIFARE block size, NTAG pages are smaller but we'll use max

	if t.tagType == pn53x.TagTypeNTAG {
		blockSize = 4
	}

	zeros := make([]byte, numBlocks*blockSize)
	return t.WriteBlocks(ctx, startBlock, zeros)
}
