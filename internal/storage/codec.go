package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Blob header: 8-byte magic + 4-byte LE uncompressed size + lz4 block.
// Blobs without the magic are stored uncompressed.
var blobMagic = []byte("rgxLz40\x00")

const blobHeaderSize = 12

func encodeBlob(data []byte) ([]byte, error) {
	buf := make([]byte, blobHeaderSize+lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf[blobHeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		// Incompressible.
		return data, nil
	}
	copy(buf, blobMagic)
	binary.LittleEndian.PutUint32(buf[8:blobHeaderSize], uint32(len(data)))
	return buf[:blobHeaderSize+n], nil
}

func decodeBlob(data []byte) ([]byte, error) {
	if len(data) < blobHeaderSize || !bytes.Equal(data[:len(blobMagic)], blobMagic) {
		return data, nil
	}
	size := binary.LittleEndian.Uint32(data[8:blobHeaderSize])
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[blobHeaderSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
