package telemetry

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/iqr/casterbase/caster"
)

var _ caster.CommandSource = (*CommandBuffer)(nil)

func TestCommandBufferDeadMan(t *testing.T) {
	mock := clock.NewMock()
	b := NewCommandBuffer(500*time.Millisecond, mock)

	l, r := b.VelocityCommands()
	assert.Zero(t, l)
	assert.Zero(t, r)

	b.Set(1.5, -2)
	l, r = b.VelocityCommands()
	assert.Equal(t, 1.5, l)
	assert.Equal(t, -2.0, r)

	mock.Add(500 * time.Millisecond)
	l, _ = b.VelocityCommands()
	assert.Equal(t, 1.5, l, "still fresh at exactly the timeout")

	mock.Add(time.Millisecond)
	l, r = b.VelocityCommands()
	assert.Zero(t, l)
	assert.Zero(t, r)

	b.Set(0.25, 0.25)
	l, _ = b.VelocityCommands()
	assert.Equal(t, 0.25, l, "a new command revives the buffer")
}

func TestCommandBufferWithoutTimeout(t *testing.T) {
	mock := clock.NewMock()
	b := NewCommandBuffer(0, mock)
	b.Set(3, 4)
	mock.Add(time.Hour)
	l, r := b.VelocityCommands()
	assert.Equal(t, 3.0, l)
	assert.Equal(t, 4.0, r)
}
