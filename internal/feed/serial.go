package feed

import (
	"context"

	"github.com/banshee-data/cryptomaster/internal/serialmux"
)

// PumpSerial subscribes to the serial bridge and feeds every observation
// line to f until ctx is done or the mux closes the subscription.
// Acknowledgements and other bridge chatter are skipped.
func (f *Feed) PumpSerial(ctx context.Context, mux serialmux.SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	logf("serial feed subscribed (%s)", id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				logf("serial feed closed")
				return nil
			}
			if serialmux.ClassifyPayload(line) != serialmux.EventTypeObservation {
				continue
			}
			f.HandleLine("serial", []byte(line))
		}
	}
}
