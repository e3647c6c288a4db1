package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/iqr/casterbase/caster"
)

// Snapshots are stored as a plain sequence of CBOR items, one per tick,
// keyed by their JSON field names. Times are RFC 3339 strings.
var recordingEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Recorder appends snapshots to a stream.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  int
}

// NewRecorder writes to w. If w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: recordingEncMode.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateRecorder appends to the file at path, creating it if needed.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open recording: %w", err)
	}
	return NewRecorder(f), nil
}

// Record appends one snapshot.
func (r *Recorder) Record(s caster.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(s); err != nil {
		return fmt.Errorf("telemetry: record tick %d: %w", s.Tick, err)
	}
	r.count++
	return nil
}

// Count returns the number of snapshots recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying writer if it is closable.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadRecording decodes every snapshot in rd.
func ReadRecording(rd io.Reader) ([]caster.Snapshot, error) {
	dec := cbor.NewDecoder(rd)
	var out []caster.Snapshot
	for {
		var s caster.Snapshot
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("telemetry: read recording item %d: %w", len(out), err)
		}
		out = append(out, s)
	}
}
