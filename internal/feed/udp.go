package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens sockets for the listener.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

type realUDPSocketFactory struct{}

func (realUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address string
	RcvBuf  int              // socket receive buffer, 0 keeps the OS default
	Factory UDPSocketFactory // nil uses net.ListenUDP
	Ready   func(net.Addr)   // called once the socket is bound
}

// UDPListener receives observation datagrams and feeds their lines to a Feed.
type UDPListener struct {
	feed    *Feed
	address string
	rcvBuf  int
	factory UDPSocketFactory
	ready   func(net.Addr)
}

// NewUDPListener creates a listener delivering into f.
func NewUDPListener(f *Feed, config UDPListenerConfig) *UDPListener {
	factory := config.Factory
	if factory == nil {
		factory = realUDPSocketFactory{}
	}
	return &UDPListener{
		feed:    f,
		address: config.Address,
		rcvBuf:  config.RcvBuf,
		factory: factory,
		ready:   config.Ready,
	}
}

// Start listens until ctx is done.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	logf("UDP listener started on %s", conn.LocalAddr())
	if l.ready != nil {
		l.ready(conn.LocalAddr())
	}

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logf("UDP read error: %v", err)
			continue
		}
		l.feed.HandlePacket(fmt.Sprintf("udp %v", from), buffer[:n])
	}
}
