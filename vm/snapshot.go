package vm

import "fmt"

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SnapshotMagic opens every snapshot.
var SnapshotMagic = [4]byte{'G', 'M', 'V', 'S'}

// SnapshotVersion is bumped whenever the layout changes.
const SnapshotVersion uint32 = 1

// SnapshotHeader is the fixed prefix of a snapshot.
type SnapshotHeader struct {
	Magic   [4]byte
	Version uint32
	Digest  uint64 // Program.Digest of the producing program
}

func (h *SnapshotHeader) Serialize(s *StateStream) error {
	for i := range h.Magic {
		if err := SerializePOD(s, &h.Magic[i]); err != nil {
			return err
		}
	}
	if err := SerializePOD(s, &h.Version); err != nil {
		return err
	}
	return SerializePOD(s, &h.Digest)
}

// ReadSnapshotHeader decodes the header at the start of data without
// restoring anything.
func ReadSnapshotHeader(data []byte) (SnapshotHeader, error) {
	var h SnapshotHeader
	buf := NewBuffer(len(data), BufferFixed, 1)
	copy(buf.Bytes(), data)
	if err := h.Serialize(NewStateReader(buf, nil)); err != nil {
		return h, err
	}
	if h.Magic != SnapshotMagic {
		return h, internalErrorf(ErrCorruptSnapshot, "bad magic %q", h.Magic[:])
	}
	return h, nil
}

// Snapshot serializes the operand stack, condition register and world into
// a new grow buffer. It is only defined between events, when no call is in
// progress.
func (e *Executor) Snapshot() (*Buffer, error) {
	if len(e.ra) != 0 {
		return nil, internalErrorf(ErrSnapshotDepth, "%d calls in progress", len(e.ra))
	}
	buf := NewBuffer(0, BufferGrow, 1)
	s := NewStateWriter(buf, e.program.Code)
	h := SnapshotHeader{Magic: SnapshotMagic, Version: SnapshotVersion, Digest: e.program.Digest()}
	if err := e.serialize(s, &h); err != nil {
		return nil, err
	}
	buf.Resize(buf.Tell())
	buf.Seek(0)
	log.Debugf("snapshot: %d bytes, %d stack values", buf.Size(), e.sp)
	return buf, nil
}

// Restore replaces the executor and world state with a snapshot taken by
// Snapshot against the same program. On failure the executor is reset and
// the world is left partially restored.
func (e *Executor) Restore(buf *Buffer) error {
	if len(e.ra) != 0 {
		return internalErrorf(ErrSnapshotDepth, "%d calls in progress", len(e.ra))
	}
	buf.Seek(0)
	s := NewStateReader(buf, e.program.Code)
	var h SnapshotHeader
	if err := e.serialize(s, &h); err != nil {
		e.Reset()
		return err
	}
	log.Debugf("restore: %d bytes, %d stack values", buf.Size(), e.sp)
	return nil
}

// serialize is shared by Snapshot and Restore.
func (e *Executor) serialize(s *StateStream, h *SnapshotHeader) error {
	if err := h.Serialize(s); err != nil {
		return err
	}
	if !s.Writing() {
		if h.Magic != SnapshotMagic {
			return internalErrorf(ErrCorruptSnapshot, "bad magic %q", h.Magic[:])
		}
		if h.Version != SnapshotVersion {
			return internalErrorf(ErrCorruptSnapshot, "version %d, expected %d", h.Version, SnapshotVersion)
		}
		if want := e.program.Digest(); h.Digest != want {
			return internalErrorf(ErrProgramMismatch, "digest %016x, program is %016x", h.Digest, want)
		}
		e.Reset()
	}

	if err := SerializeCanary(s, SectionCanary); err != nil {
		return err
	}
	stack := e.stack[:e.sp]
	if err := SerializeSlice(s, &stack, func(s *StateStream, v *Variable) error { return v.Serialize(s) }); err != nil {
		return fmt.Errorf("operand stack: %w", err)
	}
	if !s.Writing() {
		if len(stack) > len(e.stack) {
			cleanupAll(stack)
			return &ResourceError{Kind: ErrStackOverflow, Limit: len(e.stack)}
		}
		copy(e.stack, stack)
		e.sp = len(stack)
	}
	if err := SerializePOD(s, &e.cond); err != nil {
		return err
	}
	if err := SerializeCanary(s, SectionCanary); err != nil {
		return err
	}
	if err := e.world.Serialize(s); err != nil {
		return fmt.Errorf("world: %w", err)
	}
	return SerializeCanary(s, SectionCanary)
}
