package convcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/g023/streamvsr/ml"
)

// ============================================================================
// SNAPSHOT / RESTORE
// ============================================================================

// Snapshot wire format (zstd-framed, little-endian inside):
//
//	magic    uint32  "SVSR"
//	version  uint32
//	window   uint32
//	stages   uint32
//	per stage:
//	  stage        uint32
//	  channels     uint32
//	  bufChannels  uint32
//	  data         bufChannels*window float32
//
// State is always serialized as F32 regardless of StateDType; Restore
// casts back. Compressed stages are reconstructed before writing so a
// snapshot never depends on the codec configuration that produced it.
const (
	snapshotMagic   uint32 = 0x53565352 // "SVSR"
	snapshotVersion uint32 = 1
)

// Snapshot serializes every stage's lookback window to w.
func (c *Lookback) Snapshot(w io.Writer) error {
	var buf bytes.Buffer

	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	writeU32(snapshotMagic)
	writeU32(snapshotVersion)
	writeU32(uint32(c.window))
	writeU32(uint32(len(c.stages)))

	// Deterministic output for a given cache state
	ids := make([]int, 0, len(c.stages))
	for stage := range c.stages {
		ids = append(ids, stage)
	}
	sort.Ints(ids)

	for _, stage := range ids {
		st := c.stages[stage]

		var data []float32
		if st.compressed != nil {
			data = c.codec.Decompress(st.compressed)
		} else {
			data = st.buf.Floats()
		}
		if len(data) != st.bufChannels*c.window {
			return fmt.Errorf("%w: stage %d has %d values, want %d",
				ErrSnapshotCorrupt, stage, len(data), st.bufChannels*c.window)
		}

		writeU32(uint32(stage))
		writeU32(uint32(st.channels))
		writeU32(uint32(st.bufChannels))
		for _, v := range data {
			writeU32(math.Float32bits(v))
		}
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := enc.Write(buf.Bytes()); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Restore replaces all cache state with the contents of a snapshot.
// The snapshot's window must match this cache's window; a mismatched
// snapshot cannot be reinterpreted and returns ErrSnapshotMismatch,
// leaving the cache untouched. Restored stages behave exactly like
// stages written this step.
func (c *Lookback) Restore(r io.Reader) error {
	if c.backend == nil {
		return fmt.Errorf("%w: restore before Init", ErrNotSupported)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}

	pos := 0
	readU32 := func() (uint32, error) {
		if pos+4 > len(raw) {
			return 0, fmt.Errorf("%w: truncated at byte %d", ErrSnapshotCorrupt, pos)
		}
		v := binary.LittleEndian.Uint32(raw[pos:])
		pos += 4
		return v, nil
	}

	magic, err := readU32()
	if err != nil {
		return err
	}
	if magic != snapshotMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrSnapshotCorrupt, magic)
	}
	version, err := readU32()
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, version)
	}
	window, err := readU32()
	if err != nil {
		return err
	}
	if int(window) != c.window {
		return fmt.Errorf("%w: snapshot window %d, cache window %d",
			ErrSnapshotMismatch, window, c.window)
	}
	numStages, err := readU32()
	if err != nil {
		return err
	}

	type restored struct {
		stage       int
		channels    int
		bufChannels int
		data        []float32
	}
	all := make([]restored, 0, numStages)

	for i := uint32(0); i < numStages; i++ {
		stage, err := readU32()
		if err != nil {
			return err
		}
		channels, err := readU32()
		if err != nil {
			return err
		}
		bufChannels, err := readU32()
		if err != nil {
			return err
		}
		if int(stage) >= c.maxStages {
			return fmt.Errorf("%w: stage %d outside cache layout", ErrSnapshotMismatch, stage)
		}
		if channels == 0 || bufChannels < channels {
			return fmt.Errorf("%w: stage %d channel header %d/%d",
				ErrSnapshotCorrupt, stage, channels, bufChannels)
		}

		n := int(bufChannels) * c.window
		// Bound against the remaining payload before allocating: the
		// header is untrusted and a hostile bufChannels would otherwise
		// reserve gigabytes ahead of the truncation check.
		if n > (len(raw)-pos)/4 {
			return fmt.Errorf("%w: stage %d claims %d values, %d bytes remain",
				ErrSnapshotCorrupt, stage, n, len(raw)-pos)
		}
		data := make([]float32, n)
		for j := 0; j < n; j++ {
			bits, err := readU32()
			if err != nil {
				return err
			}
			data[j] = math.Float32frombits(bits)
		}
		all = append(all, restored{int(stage), int(channels), int(bufChannels), data})
	}

	// Everything parsed; only now replace live state.
	c.Reset()

	for _, rs := range all {
		ctx := c.stageCtx(rs.stage)

		bufChannels := roundUp(rs.channels, c.config.StatePadding)
		data := rs.data
		if bufChannels != rs.bufChannels {
			// Re-pad for this backend's alignment
			repacked := make([]float32, bufChannels*c.window)
			for t := 0; t < c.window; t++ {
				copy(repacked[t*bufChannels:], data[t*rs.bufChannels:t*rs.bufChannels+rs.channels])
			}
			data = repacked
		}

		buf := ctx.FromFloats(data, bufChannels, c.window)
		if c.config.StateDType != ml.DTypeF32 {
			buf = buf.Cast(ctx, c.config.StateDType)
		}

		c.stages[rs.stage] = &stageState{
			buf:         buf,
			channels:    rs.channels,
			bufChannels: bufChannels,
			lastRead:    c.curChunk,
			lastWrite:   c.curChunk,
			lastTouch:   c.curChunk,
		}
	}

	return nil
}
