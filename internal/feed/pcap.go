package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/cryptomaster/internal/fsutil"
	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayOptions controls a PCAP replay.
type ReplayOptions struct {
	// Port keeps only datagrams sent to this UDP port. 0 keeps all.
	Port int
	// Realtime sleeps between datagrams to reproduce the capture timing.
	Realtime bool
	// Clock is used for realtime pacing. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// FS opens capture files. Defaults to fsutil.OSFileSystem.
	FS fsutil.FileSystem
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int `json:"packets"`
	Datagrams int `json:"datagrams"`
	Malformed int `json:"malformed"`
}

// ReplayPCAPFile replays the observation datagrams recorded in path.
func (f *Feed) ReplayPCAPFile(ctx context.Context, path string, opts ReplayOptions) (ReplayStats, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	file, err := fsys.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer file.Close()
	return f.ReplayPCAP(ctx, file, opts)
}

// ReplayPCAP reads a classic pcap stream and feeds the payload of every
// matching UDP datagram through HandlePacket.
func (f *Feed) ReplayPCAP(ctx context.Context, r io.Reader, opts ReplayOptions) (ReplayStats, error) {
	var stats ReplayStats

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			logf("PCAP replay stopping due to context cancellation (processed %d packets)", stats.Packets)
			return stats, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			logf("PCAP replay complete: %d packets, %d datagrams, %d malformed lines",
				stats.Packets, stats.Datagrams, stats.Malformed)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read PCAP packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port > 0 && int(udp.DstPort) != opts.Port {
			continue
		}

		ts := packet.Metadata().Timestamp
		if opts.Realtime && !last.IsZero() && ts.After(last) {
			clock.Sleep(ts.Sub(last))
		}
		last = ts

		stats.Datagrams++
		stats.Malformed += f.HandlePacket("pcap", udp.Payload)
	}
}
