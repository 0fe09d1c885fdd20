package savestate

import (
	"fmt"

	"github.com/chazu/gmvm/vm"
)

// Capture snapshots e and seals the result. The executor must be idle.
func Capture(e *vm.Executor, label string, compress bool) (*Envelope, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("savestate: snapshot: %w", err)
	}
	env := NewEnvelope(label, e.Program().Digest(), snap.Bytes(), compress)
	log.Debugf("captured %s (%q): %d bytes, %d stored", env.ID, label, snap.Size(), env.Size())
	return env, nil
}

// Resume restores env into e. The envelope must come from the program e is
// running.
func Resume(e *vm.Executor, env *Envelope) error {
	if want := e.Program().Digest(); env.Program != want {
		return fmt.Errorf("%w: %s was captured from %016x, running %016x", ErrProgramMismatch, env.ID, env.Program, want)
	}
	payload, err := env.Open()
	if err != nil {
		return err
	}
	buf := vm.NewBuffer(len(payload), vm.BufferFixed, 1)
	copy(buf.Bytes(), payload)
	if err := e.Restore(buf); err != nil {
		return fmt.Errorf("savestate: restore %s: %w", env.ID, err)
	}
	log.Debugf("resumed %s (%q)", env.ID, env.Label)
	return nil
}

// Verify checks env without restoring it: the payload checksum, the snapshot
// header and, when program is non-zero, the program digest.
func Verify(env *Envelope, program uint64) (vm.SnapshotHeader, error) {
	payload, err := env.Open()
	if err != nil {
		return vm.SnapshotHeader{}, err
	}
	h, err := vm.ReadSnapshotHeader(payload)
	if err != nil {
		return h, fmt.Errorf("savestate: %s: %w", env.ID, err)
	}
	if h.Digest != env.Program {
		return h, fmt.Errorf("savestate: %s: snapshot digest %016x disagrees with envelope %016x", env.ID, h.Digest, env.Program)
	}
	if program != 0 && h.Digest != program {
		return h, fmt.Errorf("%w: %s", ErrProgramMismatch, env.ID)
	}
	return h, nil
}
