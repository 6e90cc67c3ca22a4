// Package transport owns the single UDP endpoint used for all protocol
// traffic: unicast commands and queries, broadcast discovery, and inbound
// replies. Retries and timeouts live with the dispatcher, not here.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// ErrWouldBlock is returned by Receive when no datagram arrived within the
// read interval. Callers simply loop; it is not an error condition.
var ErrWouldBlock = errors.New("transport: no datagram available")

type Transport struct {
	conn         *net.UDPConn
	readInterval time.Duration
	log          zerolog.Logger
}

// New binds the local UDP port. A bind failure is fatal to startup and is
// the only transport error that propagates out of the component.
func New(port int, readInterval time.Duration, log zerolog.Logger) (*Transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	log.Info().Stringer("addr", conn.LocalAddr()).Msg("transport bound")
	return &Transport{
		conn:         conn,
		readInterval: readInterval,
		log:          log,
	}, nil
}

// Send writes one datagram to a unicast or broadcast destination.
func (t *Transport) Send(b []byte, addr *net.UDPAddr) error {
	if _, err := t.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// Receive reads one datagram into buf, waiting at most the read interval.
// It returns ErrWouldBlock on an empty interval so the receive worker can
// check for shutdown between reads instead of blocking indefinitely.
func (t *Transport) Receive(buf []byte) (int, *net.UDPAddr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readInterval)); err != nil {
		return 0, nil, err
	}
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

// BroadcastAddrs returns the IPv4 subnet-broadcast address of every up,
// non-loopback interface, falling back to the limited broadcast address when
// none are found. Discovery requests go to each of them.
func BroadcastAddrs(port int) []*net.UDPAddr {
	var out []*net.UDPAddr

	ifaces, err := net.Interfaces()
	if err != nil {
		return []*net.UDPAddr{{IP: net.IPv4bcast, Port: port}}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range bcast {
				bcast[i] = ip4[i] | ^mask[i]
			}
			out = append(out, &net.UDPAddr{IP: bcast, Port: port})
		}
	}

	if len(out) == 0 {
		out = append(out, &net.UDPAddr{IP: net.IPv4bcast, Port: port})
	}
	return out
}
