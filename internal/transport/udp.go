// Package transport provides the minimal unreliable datagram binding the
// protocol layer runs over: bind, send-to-address, and receive with a
// bounded timeout. It promises nothing about ordering or delivery;
// everything above it is designed around that.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lancast/lancast/internal/protocol"
)

// ErrTimeout is returned by Recv when no datagram arrived within the
// deadline. Pollers use it to distinguish silence from socket failure.
var ErrTimeout = errors.New("transport: receive timed out")

// socketBufferSize is requested for both directions; a burst of keyframe
// fragments can exceed a megabyte.
const socketBufferSize = 2 * 1024 * 1024

// Conn is a bound UDP socket.
type Conn struct {
	conn *net.UDPConn
}

// Listen binds a socket on the given port on all interfaces.
func Listen(port int) (*Conn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: bind port %d: %w", port, err)
	}
	return wrap(conn), nil
}

// Dial binds a socket on an ephemeral local port. The name is loose:
// there is no connection, only a local endpoint to send and receive on.
func Dial() (*Conn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("transport: bind ephemeral port: %w", err)
	}
	return wrap(conn), nil
}

func wrap(conn *net.UDPConn) *Conn {
	// Buffer sizing is best-effort; the OS may clamp it.
	_ = conn.SetReadBuffer(socketBufferSize)
	_ = conn.SetWriteBuffer(socketBufferSize)
	return &Conn{conn: conn}
}

// SendTo transmits one datagram to dest. A failed send means that
// datagram is lost, which is already the contract of the medium; callers
// typically ignore the error for data-plane traffic.
func (c *Conn) SendTo(b []byte, dest *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(b, dest)
	return err
}

// Recv waits up to timeout for one datagram and returns its bytes and
// source address. ErrTimeout means nothing arrived; other errors are
// socket-level failures.
func (c *Conn) Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	buf := make([]byte, protocol.MaxDatagramSize+1)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// LocalPort returns the port the socket is bound to.
func (c *Conn) LocalPort() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the socket. A blocked Recv returns with an error.
func (c *Conn) Close() error {
	return c.conn.Close()
}
