package telemetry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CommandBuffer holds the latest wheel velocity commands (rad/s) received
// from a remote client. Commands older than the timeout read as zero so a
// lost client stops the base.
type CommandBuffer struct {
	clock   clock.Clock
	timeout time.Duration

	mu          sync.Mutex
	left, right float64
	updated     time.Time
}

// NewCommandBuffer creates a buffer whose commands expire after timeout.
// A zero timeout keeps commands until they are replaced. A nil clock uses
// the wall clock.
func NewCommandBuffer(timeout time.Duration, clk clock.Clock) *CommandBuffer {
	if clk == nil {
		clk = clock.New()
	}
	return &CommandBuffer{clock: clk, timeout: timeout}
}

// Set stores a new pair of commands.
func (b *CommandBuffer) Set(left, right float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left, b.right = left, right
	b.updated = b.clock.Now()
}

// VelocityCommands returns the current commands, or zeros if none arrived
// within the timeout.
func (b *CommandBuffer) VelocityCommands() (left, right float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updated.IsZero() {
		return 0, 0
	}
	if b.timeout > 0 && b.clock.Since(b.updated) > b.timeout {
		return 0, 0
	}
	return b.left, b.right
}
