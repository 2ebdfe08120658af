package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions describes the serial connection parameters used when opening the
// bridge's serial port.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultBaudRate is the bridge firmware's default line speed.
const DefaultBaudRate = 115200

// ParsePortSpec parses "path[:baud[:8N1]]" as accepted by the -serial flag.
func ParsePortSpec(spec string) (string, PortOptions, error) {
	parts := strings.Split(spec, ":")
	path := strings.TrimSpace(parts[0])
	if path == "" {
		return "", PortOptions{}, fmt.Errorf("empty serial port path in %q", spec)
	}
	var opts PortOptions
	if len(parts) > 1 && parts[1] != "" {
		if _, err := fmt.Sscanf(parts[1], "%d", &opts.BaudRate); err != nil {
			return "", PortOptions{}, fmt.Errorf("invalid baud rate in %q: %w", spec, err)
		}
	}
	if len(parts) > 2 {
		frame := strings.ToUpper(parts[2])
		if len(frame) != 3 {
			return "", PortOptions{}, fmt.Errorf("invalid frame %q: want e.g. 8N1", parts[2])
		}
		opts.DataBits = int(frame[0] - '0')
		opts.Parity = string(frame[1])
		opts.StopBits = int(frame[2] - '0')
	}
	if len(parts) > 3 {
		return "", PortOptions{}, fmt.Errorf("too many fields in serial spec %q", spec)
	}
	opts, err := opts.Normalize()
	if err != nil {
		return "", PortOptions{}, err
	}
	return path, opts, nil
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}

	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}
