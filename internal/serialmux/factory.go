package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenBridge opens the bridge port described by spec (see ParsePortSpec)
// and wraps it in a SerialMux.
func OpenBridge(spec string) (*SerialMux[serial.Port], error) {
	path, opts, err := ParsePortSpec(spec)
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
