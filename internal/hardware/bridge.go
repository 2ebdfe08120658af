// Package hardware implements the mission's physical collaborators: the
// coin arm, speech output and in-place rotation. Serial versions talk to
// the robot's bridge firmware through serialmux; simulated versions only
// log and wait on a clock.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/serialmux"
)

var (
	// ErrCommandRejected is returned when the bridge answers "err".
	ErrCommandRejected = errors.New("bridge rejected command")
	// ErrBridgeClosed is returned when the line stream ends before an answer.
	ErrBridgeClosed = errors.New("bridge closed")
)

var logf = monitoring.Component("hardware")

// DefaultCommandTimeout bounds how long a command waits for its answer.
const DefaultCommandTimeout = 10 * time.Second

// Bridge sends commands to the serial bridge and waits for the matching
// acknowledgement.
type Bridge struct {
	mux     serialmux.SerialMuxInterface
	timeout time.Duration
}

// NewBridge wraps mux. A non-positive timeout uses DefaultCommandTimeout.
func NewBridge(mux serialmux.SerialMuxInterface, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Bridge{mux: mux, timeout: timeout}
}

// Do sends command and blocks until it is acknowledged, rejected, the
// timeout passes or ctx is done. extra lengthens the timeout for commands
// that take physical time.
func (b *Bridge) Do(ctx context.Context, command string, extra time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout+extra)
	defer cancel()

	// Subscribe before sending so the answer cannot be missed.
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)

	if err := b.mux.SendCommand(command); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q: %w", command, ctx.Err())
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("waiting for %q: %w", command, ErrBridgeClosed)
			}
			matched, failed := serialmux.AckFor(line, command)
			if !matched {
				continue
			}
			if failed {
				return fmt.Errorf("%q: %s: %w", command, line, ErrCommandRejected)
			}
			return nil
		}
	}
}
