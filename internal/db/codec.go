package db

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Archived memory blobs are zstd-compressed before they hit the database.
// A typical tier-1 payload is repetitive JSON and compresses well; the
// decoder caps the decompressed size to keep a corrupt row from ballooning.
const maxDecodedBlob = 16 << 20

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// compressBlob compresses a raw payload. Nil in, nil out.
func compressBlob(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return blobEncoder.EncodeAll(raw, nil)
}

// decompressBlob reverses compressBlob. Nil in, nil out.
func decompressBlob(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	raw, err := blobDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing memory blob: %w", err)
	}
	if len(raw) > maxDecodedBlob {
		return nil, fmt.Errorf("memory blob too large after decompression: %d bytes", len(raw))
	}
	return raw, nil
}
