// ABOUTME: Log record encoding with CRC32 framing
// ABOUTME: Document payloads are proto-marshaled structpb structs

package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loamdb/loam/pkg/document"
)

// Kind identifies the type of log record
type Kind byte

const (
	// KindPut persists a document's full contents at a revision
	KindPut Kind = 1

	// KindTombstone persists a deletion marker for an identifier
	KindTombstone Kind = 2
)

const (
	// recordHeaderSize is the fixed size of the record header.
	// Layout: Seq(8) + Rev(8) + Kind(1) + IDLen(2) + PayloadLen(4)
	recordHeaderSize = 23
)

// Record is a single durable log record. Put records carry the document
// fields as a proto-marshaled structpb.Struct; tombstones carry no payload.
type Record struct {
	Seq    uint64 // Sequence number, monotonically increasing
	Kind   Kind   // Record type
	ID     string // Document identifier
	Rev    uint64 // Document revision
	Fields map[string]document.Value
}

// Encode serializes the record with a trailing CRC32 checksum.
// Format: [Header] [ID] [Payload] [CRC32(4)]
func (r *Record) Encode() ([]byte, error) {
	// The id length field is 2 bytes; a longer id must be rejected here,
	// before anything reaches the file, or the header would disagree with
	// the body and poison replay of the whole segment tail.
	if len(r.ID) > math.MaxUint16 {
		return nil, fmt.Errorf("encode record %d: id length %d exceeds %d", r.Seq, len(r.ID), math.MaxUint16)
	}

	var payload []byte
	if r.Kind == KindPut {
		var err error
		payload, err = proto.Marshal(document.ToProto(r.Fields))
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", r.Seq, err)
		}
	}

	buf := make([]byte, recordHeaderSize+len(r.ID)+len(payload)+4)
	binary.LittleEndian.PutUint64(buf[0:8], r.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], r.Rev)
	buf[16] = byte(r.Kind)
	binary.LittleEndian.PutUint16(buf[17:19], uint16(len(r.ID)))
	binary.LittleEndian.PutUint32(buf[19:23], uint32(len(payload)))

	offset := recordHeaderSize
	copy(buf[offset:], r.ID)
	offset += len(r.ID)
	copy(buf[offset:], payload)
	offset += len(payload)

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)
	return buf, nil
}

// ReadRecord reads and decodes the next record from the stream.
// Returns io.EOF at a clean end, ErrTruncated on a torn tail, and
// ErrCorrupted on a checksum mismatch.
func ReadRecord(rd io.Reader) (*Record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(rd, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}

	idLen := int(binary.LittleEndian.Uint16(header[17:19]))
	payloadLen := int(binary.LittleEndian.Uint32(header[19:23]))

	body := make([]byte, idLen+payloadLen+4)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, ErrTruncated
	}

	stored := binary.LittleEndian.Uint32(body[idLen+payloadLen:])
	crc := crc32.ChecksumIEEE(header)
	crc = crc32.Update(crc, crc32.IEEETable, body[:idLen+payloadLen])
	if stored != crc {
		return nil, ErrCorrupted
	}

	rec := &Record{
		Seq:  binary.LittleEndian.Uint64(header[0:8]),
		Rev:  binary.LittleEndian.Uint64(header[8:16]),
		Kind: Kind(header[16]),
		ID:   string(body[:idLen]),
	}

	if rec.Kind == KindPut {
		var s structpb.Struct
		if err := proto.Unmarshal(body[idLen:idLen+payloadLen], &s); err != nil {
			return nil, ErrCorrupted
		}
		rec.Fields = document.FromProto(&s)
	}
	return rec, nil
}
