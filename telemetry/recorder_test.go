package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqr/casterbase/canopen"
	"github.com/iqr/casterbase/caster"
)

func sampleSnapshot(tick uint64) caster.Snapshot {
	at := time.Date(2026, 3, 1, 12, 0, 0, int(tick)*int(time.Millisecond), time.UTC)
	s := caster.Snapshot{
		Time:        at,
		Tick:        tick,
		StatusFlags: canopen.StatusSerialMode,
		FaultFlags:  canopen.FaultOverheat,
		Faults:      []string{"overheat"},
		Connected:   true,
		Initialized: true,
		Client:      canopen.Stats{Queries: 10 * tick, Replies: 10 * tick},
		ReadErrors:  1,
	}
	s.Joints[0] = caster.Joint{Name: "left", Position: 1.25, Velocity: -0.5, VelocityCommand: 0.75}
	s.Joints[1] = caster.Joint{Name: "right", PositionOffset: 0.01}
	s.LinearVelocity = [2]float64{-0.0381, 0}
	s.Motors[0] = caster.MotorState{Counter: -42, RPM: -72, Fresh: true, Updated: at, Commanded: 0.75, CommandRPM: 107}
	s.Motors[1] = caster.MotorState{LastError: "canopen: query timeout", Flags: canopen.MotorStalled}
	return s
}

func TestRecorderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	want := []caster.Snapshot{sampleSnapshot(1), sampleSnapshot(2), sampleSnapshot(3)}
	for _, s := range want {
		require.NoError(t, rec.Record(s))
	}
	assert.Equal(t, 3, rec.Count())
	require.NoError(t, rec.Close())

	got, err := ReadRecording(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range want {
		assert.True(t, want[i].Time.Equal(got[i].Time))
		assert.Equal(t, want[i], got[i])
	}
}

func TestRecorderFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cbor")
	for tick := uint64(1); tick <= 2; tick++ {
		rec, err := CreateRecorder(path)
		require.NoError(t, err)
		require.NoError(t, rec.Record(sampleSnapshot(tick)))
		require.NoError(t, rec.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadRecording(f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Tick)
	assert.Equal(t, uint64(2), got[1].Tick)
}

func TestReadRecordingTruncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	require.NoError(t, rec.Record(sampleSnapshot(1)))
	require.NoError(t, rec.Record(sampleSnapshot(2)))
	data := buf.Bytes()[:buf.Len()-5]

	got, err := ReadRecording(bytes.NewReader(data))
	assert.Error(t, err)
	assert.Len(t, got, 1, "items before the damage are returned")
}

func TestReadRecordingEmpty(t *testing.T) {
	got, err := ReadRecording(bytes.NewReader(nil))
	assert.NoError(t, err)
	assert.Empty(t, got)
}
