package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/handset/host/internal/envelope"
	"github.com/handset/host/internal/logging"
)

// UDPServer is the low-latency transport. One goroutine reads datagrams and
// hands each to the Pool without waiting; nothing is ever sent back.
type UDPServer struct {
	pipeline *Pipeline
	pool     *Pool
	conn     net.PacketConn

	closeOnce sync.Once
}

// ListenUDP binds addr and returns a server ready to Serve.
func ListenUDP(addr string, pipeline *Pipeline, pool *Pool) (*UDPServer, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp %s: %w", addr, err)
	}
	return &UDPServer{pipeline: pipeline, pool: pool, conn: conn}, nil
}

// Addr returns the bound address.
func (s *UDPServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is done or the socket is closed.
// Errors from individual datagrams are dropped; the loop never exits on them.
func (s *UDPServer) Serve(ctx context.Context) error {
	logging.Infof("server: udp listening on %s", s.conn.LocalAddr())

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	buf := make([]byte, envelope.MaxWireSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			logging.Warnf("server: udp read error: %v", err)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		remote := from.String()

		ok := s.pool.TrySubmit(func() {
			// Errors were already counted and logged by the pipeline.
			_, _ = s.pipeline.Process(ctx, TransportUDP, remote, datagram)
		})
		if !ok {
			logging.Debugf("server: udp queue full, dropped datagram from %s", remote)
		}
	}
}

// Close closes the socket, ending Serve.
func (s *UDPServer) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}
