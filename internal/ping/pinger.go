// Package ping measures ICMP echo round-trip times. The latency probe is a
// best-effort enrichment; callers treat every error as "no measurement".
package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1

var ErrNoReply = errors.New("ping: no echo reply")

type Pinger struct {
	Count   int
	Timeout time.Duration
}

func NewPinger() *Pinger {
	return &Pinger{Count: 3, Timeout: 2 * time.Second}
}

// Probe sends Count echo requests to host and returns the average round-trip
// time in milliseconds. It uses an unprivileged datagram ICMP socket and falls
// back to a raw socket when the platform forbids those.
func (p *Pinger) Probe(ctx context.Context, host string) (float64, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return 0, fmt.Errorf("ping: resolve %s: %w", host, err)
		}
		ip = resolved.IP
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		if err != nil {
			return 0, fmt.Errorf("ping: open socket: %w", err)
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.Timeout))
	}

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if _, ok := conn.LocalAddr().(*net.IPAddr); ok {
		dst = &net.IPAddr{IP: ip}
	}

	id := os.Getpid() & 0xffff
	received := 0
	var total time.Duration

	for seq := 0; seq < p.Count; seq++ {
		rtt, err := p.oneEcho(conn, dst, id, seq)
		if err != nil {
			continue
		}
		received++
		total += rtt
	}

	if received == 0 {
		return 0, ErrNoReply
	}
	avg := total / time.Duration(received)
	return float64(avg.Microseconds()) / 1000.0, nil
}

func (p *Pinger) oneEcho(conn *icmp.PacketConn, dst net.Addr, id, seq int) (time.Duration, error) {
	message := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("kestrel-latency-probe"),
		},
	}
	packet, err := message.Marshal(nil)
	if err != nil {
		return 0, err
	}

	sent := time.Now()
	if _, err := conn.WriteTo(packet, dst); err != nil {
		return 0, err
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || reply.Type != ipv4.ICMPTypeEchoReply || echo.Seq != seq {
			continue
		}
		return time.Since(sent), nil
	}
}
