// Package snapshot implements the self-describing snapshot envelope and its
// publication protocol over a blob store.
//
// A snapshot captures everything the store keeps per document: the metadata
// records and the index's serialized bytes. Document content never appears
// in a snapshot because the store never holds it.
//
// Envelope layout:
//
//	magic "LETHE1" | codec name (length + bytes) | JSON header (length + bytes) | codec-framed payload
//
// The header names the codec that framed the payload, so readers need no
// out-of-band configuration to open a snapshot written with a different
// default codec.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lethedb/lethe/blobstore"
	"github.com/lethedb/lethe/codec"
	"github.com/lethedb/lethe/metadata"
)

var magic = [6]byte{'L', 'E', 'T', 'H', 'E', '1'}

// currentName is the pointer blob naming the latest published snapshot.
const currentName = "CURRENT"

// Sanity limits for deserialization.
const (
	maxCodecNameLen = 64
	maxHeaderLen    = 1 << 20 // 1MB
)

// Header describes a snapshot. It is stored as plain JSON in the envelope,
// readable without decoding the payload.
type Header struct {
	ID        uuid.UUID `json:"snapshot_id"`
	CreatedAt time.Time `json:"created_at"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	Index     string    `json:"index"`
}

// Snapshot is a point-in-time copy of the store's durable state.
type Snapshot struct {
	Header  Header
	Records map[string]metadata.Record
	Index   []byte
}

// payload is the codec-framed body of the envelope.
type payload struct {
	Records map[string]metadata.Record `json:"records"`
	Index   []byte                     `json:"index"`
}

// New assembles a snapshot with a fresh id and timestamp.
func New(dimension int, indexType string, records map[string]metadata.Record, index []byte) *Snapshot {
	return &Snapshot{
		Header: Header{
			ID:        uuid.New(),
			CreatedAt: time.Now().UTC(),
			Dimension: dimension,
			Count:     len(records),
			Index:     indexType,
		},
		Records: records,
		Index:   index,
	}
}

// BlobName returns the blob name a snapshot is published under.
func BlobName(id uuid.UUID) string {
	return "snapshots/" + id.String()
}

// Write serializes snap to w, framing the payload with c.
// A nil codec falls back to codec.Default.
func Write(w io.Writer, c codec.Codec, snap *Snapshot) error {
	if c == nil {
		c = codec.Default
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}

	name := []byte(c.Name())
	if err := writeBlock(w, name); err != nil {
		return err
	}

	header, err := json.Marshal(snap.Header)
	if err != nil {
		return fmt.Errorf("snapshot: encode header: %w", err)
	}
	if err := writeBlock(w, header); err != nil {
		return err
	}

	body, err := c.Marshal(payload{Records: snap.Records, Index: snap.Index})
	if err != nil {
		return fmt.Errorf("snapshot: encode payload: %w", err)
	}
	_, err = w.Write(body)
	return err
}

// Read deserializes a snapshot from r, resolving the codec from the
// envelope. The payload extends to EOF.
func Read(r io.Reader) (*Snapshot, error) {
	var m [6]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, fmt.Errorf("snapshot: read magic: %w", err)
	}
	if m != magic {
		return nil, errors.New("snapshot: bad magic")
	}

	name, err := readBlock(r, maxCodecNameLen, "codec name")
	if err != nil {
		return nil, err
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("snapshot: unknown codec %q", string(name))
	}

	headerRaw, err := readBlock(r, maxHeaderLen, "header")
	if err != nil {
		return nil, err
	}
	var header Header
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, fmt.Errorf("snapshot: decode header: %w", err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read payload: %w", err)
	}
	var p payload
	if err := c.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("snapshot: decode payload: %w", err)
	}

	if header.Count != len(p.Records) {
		return nil, fmt.Errorf("snapshot: header count %d does not match %d records", header.Count, len(p.Records))
	}

	return &Snapshot{Header: header, Records: p.Records, Index: p.Index}, nil
}

// Publish serializes snap with c and writes it to bs under
// "snapshots/<id>", then points CURRENT at it. Returns the blob name.
//
// The two puts are ordered so a reader can never resolve CURRENT to a blob
// that does not exist yet. With multiple publishers, wrap bs in a store with
// compare-and-swap CURRENT semantics such as s3.CommitStore.
func Publish(ctx context.Context, bs blobstore.BlobStore, c codec.Codec, snap *Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, c, snap); err != nil {
		return "", err
	}

	name := BlobName(snap.Header.ID)
	if err := bs.Put(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("snapshot: put %s: %w", name, err)
	}
	if err := bs.Put(ctx, currentName, []byte(name)); err != nil {
		return "", fmt.Errorf("snapshot: update CURRENT: %w", err)
	}
	return name, nil
}

// Latest resolves the CURRENT pointer and reads the snapshot it names.
// If nothing has been published, the error satisfies
// errors.Is(err, blobstore.ErrNotFound).
func Latest(ctx context.Context, bs blobstore.BlobStore) (*Snapshot, error) {
	ptr, err := bs.Get(ctx, currentName)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(string(ptr))
	data, err := bs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return Read(bytes.NewReader(data))
}

func writeBlock(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlock(r io.Reader, limit uint32, what string) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("snapshot: read %s length: %w", what, err)
	}
	if n > limit {
		return nil, fmt.Errorf("snapshot: %s length %d exceeds limit %d", what, n, limit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", what, err)
	}
	return buf, nil
}
