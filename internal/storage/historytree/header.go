package historytree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/errors"
)

// File header format (binary, little-endian, padded to HeaderSize):
// - Magic (4 bytes)
// - File version (4 bytes)
// - Provider version (4 bytes)
// - Block size (4 bytes)
// - Max children (4 bytes)
// - Node count (4 bytes)
// - Root sequence number (4 bytes)
// - Start time (8 bytes)
// - Attribute section length (4 bytes)
// - CRC32 of the preceding bytes (4 bytes)
const (
	fileMagic   uint32 = 0x05FFA900
	fileVersion int32  = 8

	headerCRCOffset = 40
)

type header struct {
	providerVersion int32
	blockSize       int32
	maxChildren     int32
	nodeCount       int32
	rootSeq         int32
	startTime       int64
	attrLen         int32
}

func (h *header) marshal() []byte {
	buf := make([]byte, config.HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(fileVersion))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.providerVersion))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.blockSize))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.maxChildren))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.nodeCount))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.rootSeq))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(h.startTime))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(h.attrLen))
	binary.LittleEndian.PutUint32(buf[40:44], crc32.ChecksumIEEE(buf[:headerCRCOffset]))
	return buf
}

// unmarshalHeader validates and decodes a file header. Structural problems
// are ErrCorruptHeader; a foreign provider version is ErrVersionMismatch.
func unmarshalHeader(buf []byte, providerVersion int) (header, error) {
	var h header

	if len(buf) < headerCRCOffset+4 {
		return h, fmt.Errorf("header too short: %w", errors.ErrCorruptHeader)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != fileMagic {
		return h, fmt.Errorf("invalid magic: expected %x, got %x: %w", fileMagic, magic, errors.ErrCorruptHeader)
	}

	expectedCRC := binary.LittleEndian.Uint32(buf[40:44])
	if actualCRC := crc32.ChecksumIEEE(buf[:headerCRCOffset]); actualCRC != expectedCRC {
		return h, fmt.Errorf("header checksum mismatch: expected %x, got %x: %w",
			expectedCRC, actualCRC, errors.ErrCorruptHeader)
	}

	version := int32(binary.LittleEndian.Uint32(buf[4:8]))
	if version != fileVersion {
		return h, fmt.Errorf("unsupported file version %d: %w", version, errors.ErrCorruptHeader)
	}

	h.providerVersion = int32(binary.LittleEndian.Uint32(buf[8:12]))
	h.blockSize = int32(binary.LittleEndian.Uint32(buf[12:16]))
	h.maxChildren = int32(binary.LittleEndian.Uint32(buf[16:20]))
	h.nodeCount = int32(binary.LittleEndian.Uint32(buf[20:24]))
	h.rootSeq = int32(binary.LittleEndian.Uint32(buf[24:28]))
	h.startTime = int64(binary.LittleEndian.Uint64(buf[28:36]))
	h.attrLen = int32(binary.LittleEndian.Uint32(buf[36:40]))

	if h.providerVersion != int32(providerVersion) {
		return h, fmt.Errorf("provider version: file has %d, expected %d: %w",
			h.providerVersion, providerVersion, errors.ErrVersionMismatch)
	}

	if h.blockSize < config.HeaderSize || h.maxChildren < 2 ||
		coreHeaderSize(int(h.maxChildren)) >= int(h.blockSize) {
		return h, fmt.Errorf("invalid geometry: block size %d, max children %d: %w",
			h.blockSize, h.maxChildren, errors.ErrCorruptHeader)
	}

	if h.nodeCount <= 0 || h.rootSeq < 0 || h.rootSeq >= h.nodeCount || h.attrLen < 0 {
		return h, fmt.Errorf("unfinished history (%d nodes, root %d): %w",
			h.nodeCount, h.rootSeq, errors.ErrCorruptHeader)
	}

	return h, nil
}
