package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// lz4HeaderSize prefixes each blob with the uncompressed and compressed
// sizes. CompressedSize 0 marks an incompressible blob stored raw.
const lz4HeaderSize = 8

// LZ4 compresses JSON-encoded values with LZ4 block compression: lower
// ratio than zstd but very fast, for snapshot-heavy workloads.
type LZ4 struct{}

// Marshal encodes the value to JSON and compresses it.
func (LZ4) Marshal(v any) ([]byte, error) {
	raw, err := (JSON{}).Marshal(v)
	if err != nil {
		return nil, err
	}

	bound := lz4.CompressBlockBound(len(raw))
	compressed := make([]byte, bound)
	n, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return nil, err
	}

	// n == 0 means incompressible; store the raw bytes.
	if n == 0 || n >= len(raw) {
		out := make([]byte, lz4HeaderSize+len(raw))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(raw)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[lz4HeaderSize:], raw)
		return out, nil
	}

	out := make([]byte, lz4HeaderSize+n)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[4:], uint32(n))
	copy(out[lz4HeaderSize:], compressed[:n])
	return out, nil
}

// Unmarshal decompresses the data and decodes the JSON into v.
func (LZ4) Unmarshal(data []byte, v any) error {
	if len(data) < lz4HeaderSize {
		return fmt.Errorf("lz4: blob too small for header")
	}
	rawSize := binary.LittleEndian.Uint32(data[0:])
	compSize := binary.LittleEndian.Uint32(data[4:])
	body := data[lz4HeaderSize:]

	if compSize == 0 {
		if uint32(len(body)) != rawSize {
			return fmt.Errorf("lz4: raw blob size %d, header says %d", len(body), rawSize)
		}
		return (JSON{}).Unmarshal(body, v)
	}

	if uint32(len(body)) != compSize {
		return fmt.Errorf("lz4: compressed blob size %d, header says %d", len(body), compSize)
	}
	raw := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(body, raw)
	if err != nil {
		return err
	}
	if uint32(n) != rawSize {
		return fmt.Errorf("lz4: decompressed %d bytes, header says %d", n, rawSize)
	}
	return (JSON{}).Unmarshal(raw[:n], v)
}

// Name returns the unique name of the codec ("lz4").
func (LZ4) Name() string { return "lz4" }
