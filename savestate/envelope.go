// Package savestate stores executor snapshots as self-describing envelopes
// in a SQLite database of named slots and a bounded rewind history.
package savestate

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
)

var log = commonlog.GetLogger("gmvm.savestate")

var (
	// ErrChecksum means a payload does not hash to the envelope's checksum.
	ErrChecksum = errors.New("savestate: payload checksum mismatch")
	// ErrProgramMismatch means the envelope was captured from another program.
	ErrProgramMismatch = errors.New("savestate: envelope belongs to another program")
)

// cborEncMode uses canonical mode so equal envelopes encode to equal bytes.
var cborEncMode cbor.EncMode

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("savestate: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// EncodeAll and DecodeAll are safe for concurrent use.
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("savestate: failed to create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("savestate: failed to create zstd decoder: %v", err))
	}
}

// Envelope wraps one snapshot with the metadata needed to find, check and
// restore it.
type Envelope struct {
	ID         uuid.UUID `cbor:"1,keyasint"`
	Created    time.Time `cbor:"2,keyasint"`
	Label      string    `cbor:"3,keyasint,omitempty"`
	Program    uint64    `cbor:"4,keyasint"` // digest of the producing program
	Compressed bool      `cbor:"5,keyasint"`
	Checksum   uint64    `cbor:"6,keyasint"` // xxh3 of the uncompressed payload
	Payload    []byte    `cbor:"7,keyasint"`
}

// NewEnvelope seals payload, compressing it when compress is set.
func NewEnvelope(label string, program uint64, payload []byte, compress bool) *Envelope {
	env := &Envelope{
		ID:         uuid.New(),
		Created:    time.Now().UTC(),
		Label:      label,
		Program:    program,
		Compressed: compress,
		Checksum:   xxh3.Hash(payload),
	}
	if compress {
		env.Payload = encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	} else {
		env.Payload = append([]byte(nil), payload...)
	}
	return env
}

// Open returns the uncompressed payload after checking its checksum.
func (e *Envelope) Open() ([]byte, error) {
	payload := e.Payload
	if e.Compressed {
		var err error
		payload, err = decoder.DecodeAll(e.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("savestate: decompress %s: %w", e.ID, err)
		}
	}
	if sum := xxh3.Hash(payload); sum != e.Checksum {
		return nil, fmt.Errorf("%w: %s has %016x, computed %016x", ErrChecksum, e.ID, e.Checksum, sum)
	}
	return payload, nil
}

// Size returns the stored payload size in bytes.
func (e *Envelope) Size() int { return len(e.Payload) }

// MarshalEnvelope serializes an Envelope to CBOR bytes.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	return cborEncMode.Marshal(e)
}

// UnmarshalEnvelope deserializes an Envelope from CBOR bytes.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("savestate: unmarshal envelope: %w", err)
	}
	return &e, nil
}
