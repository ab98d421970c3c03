// Package stripewriter implements the parallel file/network writer: a pool
// of worker threads shares a small monitor object tracking
// which mountpoints are still good, and stripes incoming chunks across them
// with per-chunk failure isolation — a chunk that cannot be written
// anywhere is dropped and logged, but the run continues.
package stripewriter

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/logging"
	"github.com/jive5ab/chaincore/internal/wire"
)

// Chunk is the unit of work a stripe writer consumes: a sequence number, a
// path relative to each mountpoint's root, and the payload to write.
type Chunk struct {
	SeqNum  uint64
	RelPath string
	Payload *chaincore.Block
}

func (c Chunk) Len() int { return c.Payload.Len() }

// Mode selects the on-disk layout: PerChunkFile opens one file per chunk
// with O_EXCL, Mark6 appends a chunk header and shares one open file per
// mountpoint across the whole scan.
type Mode int

const (
	PerChunkFile Mode = iota
	Mark6
)

// Config configures a stripe-writer consumer stage.
type Config struct {
	Mountpoints []string
	Mode        Mode
	Logger      *logging.Logger
}

// Monitor is the shared good-mountpoint tracker every worker thread of the
// stage coordinates through. It rides on the stage's SyncEnvelope
// mutex/condition rather than a private lock, isolating the rotation state
// behind a small monitor object: names holds every mountpoint still
// considered good, inUse marks the ones a worker currently has checked out.
type Monitor struct {
	cfg       Config
	names     []string
	inUse     map[string]bool
	openFiles map[string]*os.File // mountpoint -> open Mark6 file, Mark6 mode only

	dropped int // chunks that exhausted every good mountpoint
}

// NewMaker returns the maker/deleter pair AddConsumer needs to build the
// stage's shared user-state.
func NewMaker(cfg Config) (func() *Monitor, func(*Monitor)) {
	maker := func() *Monitor {
		names := make([]string, len(cfg.Mountpoints))
		copy(names, cfg.Mountpoints)
		return &Monitor{
			cfg:       cfg,
			names:     names,
			inUse:     make(map[string]bool),
			openFiles: make(map[string]*os.File),
		}
	}
	deleter := func(m *Monitor) {
		for _, f := range m.openFiles {
			_ = f.Close()
		}
	}
	return maker, deleter
}

// Run is the Chain consumer stage function: AddConsumer[Chunk, *Monitor]
// spawns one copy of this per worker thread, each pulling from the shared
// input queue and racing the others only over the Monitor.
func Run(env *chaincore.SyncEnvelope[*Monitor], in *chaincore.BoundedQueue[Chunk], threadIndex int) error {
	for {
		chunk, ok := in.Pop()
		if !ok {
			return nil
		}
		if err := writeChunk(env, chunk); err != nil {
			if logger := env.State().cfg.Logger; logger != nil {
				logger.Errorf("stripewriter: chunk %d dropped: %v", chunk.SeqNum, err)
			}
		}
		chunk.Payload.Release()
	}
}

var errNoGoodMountpoint = errors.New("stripewriter: no good mountpoint available")

// writeChunk claims a mountpoint not yet tried for this chunk, attempts the
// write, and on failure evicts that mountpoint from rotation permanently
// and tries the next one, until either a write succeeds or every
// currently-good mountpoint has been tried.
func writeChunk(env *chaincore.SyncEnvelope[*Monitor], chunk Chunk) error {
	tried := make(map[string]bool)

	for {
		mp, ok := claimMountpoint(env, tried)
		if !ok {
			env.Communicate(func(m **Monitor) { (*m).dropped++ })
			return errNoGoodMountpoint
		}
		tried[mp] = true

		if err := writeToMountpoint(env, mp, chunk); err != nil {
			if logger := env.State().cfg.Logger; logger != nil {
				logger.Warnf("stripewriter: mountpoint %s failed, evicting: %v", mp, err)
			}
			evictMountpoint(env, mp)
			continue
		}

		releaseMountpoint(env, mp)
		return nil
	}
}

// claimMountpoint waits until some known-good mountpoint is both untried
// for this chunk and not currently checked out by another worker, then
// checks it out. It gives up once every known-good mountpoint has been
// tried for this chunk, rather than waiting on one that will never free up
// for a reason unrelated to its own goodness.
func claimMountpoint(env *chaincore.SyncEnvelope[*Monitor], tried map[string]bool) (string, bool) {
	env.Lock()
	defer env.Unlock()

	for {
		if env.CancelledLocked() {
			return "", false
		}
		st := env.StateLocked()

		if allTried(st.names, tried) {
			return "", false
		}
		for i, mp := range st.names {
			if st.inUse[mp] || tried[mp] {
				continue
			}
			st.inUse[mp] = true
			// Rotate mp to the back so the next claim prefers the
			// mountpoint after it.
			st.names = append(append(st.names[:i:i], st.names[i+1:]...), mp)
			return mp, true
		}
		env.Wait()
	}
}

func allTried(names []string, tried map[string]bool) bool {
	for _, mp := range names {
		if !tried[mp] {
			return false
		}
	}
	return true
}

// releaseMountpoint frees mp for other workers after a successful write.
func releaseMountpoint(env *chaincore.SyncEnvelope[*Monitor], mp string) {
	env.Communicate(func(m **Monitor) {
		delete((*m).inUse, mp)
	})
}

// evictMountpoint removes mp from rotation for the remainder of the run.
func evictMountpoint(env *chaincore.SyncEnvelope[*Monitor], mp string) {
	env.Communicate(func(m **Monitor) {
		delete((*m).inUse, mp)
		for i, name := range (*m).names {
			if name == mp {
				(*m).names = append((*m).names[:i], (*m).names[i+1:]...)
				break
			}
		}
	})
}

func writeToMountpoint(env *chaincore.SyncEnvelope[*Monitor], mp string, chunk Chunk) error {
	switch env.State().cfg.Mode {
	case Mark6:
		return writeMark6(env, mp, chunk)
	default:
		return writePerChunkFile(mp, chunk)
	}
}

func writePerChunkFile(mp string, chunk Chunk) error {
	full := filepath.Join(mp, chunk.RelPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(chunk.Payload.Bytes())
	return err
}

func writeMark6(env *chaincore.SyncEnvelope[*Monitor], mp string, chunk Chunk) error {
	f, err := openMark6File(env, mp)
	if err != nil {
		return err
	}
	hdr := wire.MarshalChunkHeader(wire.StripeChunkHeader{
		SeqNum:     chunk.SeqNum,
		ByteLength: uint64(chunk.Payload.Len()),
	})
	// Header and payload are issued as a single Write so that two worker
	// threads sharing this O_APPEND file descriptor can never interleave a
	// header from one chunk with the payload of another.
	record := append(hdr, chunk.Payload.Bytes()...)
	_, err = f.Write(record)
	return err
}

// openMark6File returns the already-open file for mp, opening it (and
// recording it in the shared Monitor) on first use.
func openMark6File(env *chaincore.SyncEnvelope[*Monitor], mp string) (*os.File, error) {
	var f *os.File
	var openErr error

	env.Communicate(func(m **Monitor) {
		if existing, ok := (*m).openFiles[mp]; ok {
			f = existing
			return
		}
		if err := os.MkdirAll(mp, 0o755); err != nil {
			openErr = err
			return
		}
		path := filepath.Join(mp, "scan.mark6")
		nf, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			openErr = err
			return
		}
		(*m).openFiles[mp] = nf
		f = nf
	})
	return f, openErr
}

// Stats is a point-in-time snapshot of the shared Monitor's counters, used
// by tests and metrics.
type Stats struct {
	GoodMountpoints int
	Dropped         int
}

// SnapshotStats reads Stats under the envelope's lock.
func SnapshotStats(env *chaincore.SyncEnvelope[*Monitor]) Stats {
	env.Lock()
	defer env.Unlock()
	st := env.StateLocked()
	return Stats{GoodMountpoints: len(st.names), Dropped: st.dropped}
}
