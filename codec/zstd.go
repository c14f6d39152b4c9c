package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoder/decoder pools: zstd contexts are expensive to create and safe to
// reuse across goroutines once pooled.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Zstd compresses JSON-encoded values with zstd. Frames are
// self-describing, so no extra framing is needed around the JSON bytes.
type Zstd struct{}

// Marshal encodes the value to JSON and compresses it.
func (Zstd) Marshal(v any) ([]byte, error) {
	raw, err := (JSON{}).Marshal(v)
	if err != nil {
		return nil, err
	}
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(raw, nil), nil
}

// Unmarshal decompresses the data and decodes the JSON into v.
func (Zstd) Unmarshal(data []byte, v any) error {
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return (JSON{}).Unmarshal(raw, v)
}

// Name returns the unique name of the codec ("zstd").
func (Zstd) Name() string { return "zstd" }
