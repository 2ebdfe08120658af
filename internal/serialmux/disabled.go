package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrBridgeDisabled is returned by DisabledSerialMux.SendCommand.
var ErrBridgeDisabled = errors.New("serial bridge disabled")

// DisabledSerialMux stands in for the bridge when the robot runs without
// one: no lines arrive and every command fails at once, so collaborators
// report errors instead of waiting out their timeouts. Dropped commands
// are kept for the admin page.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	dropped     []string
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan string),
	}
}

// Subscribe returns a channel that only ever closes. After Close the
// channel is already closed.
func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand records command and returns ErrBridgeDisabled.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.mu.Lock()
	d.dropped = append(d.dropped, command)
	d.mu.Unlock()
	return fmt.Errorf("%q: %w", command, ErrBridgeDisabled)
}

// Dropped returns the commands sent so far.
func (d *DisabledSerialMux) Dropped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dropped...)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "serial bridge disabled; dropped commands:")
		for _, c := range d.Dropped() {
			fmt.Fprintln(w, c)
		}
	})
}
