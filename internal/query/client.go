// Package query implements the SA-MP/open.mp UDP query protocol. Each packet
// carries a "SAMP" preamble, the target address, and a single opcode; the
// server echoes the header back followed by the opcode's payload.
package query

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"kestrel/internal/domain"
)

const (
	opcodeInfo    = 'i'
	opcodeRules   = 'r'
	opcodePlayers = 'd'
	opcodePing    = 'p'

	headerSize      = 11
	maxResponseSize = 4096

	// The protocol truncates the basic player list above this count, so
	// querying it for large servers only wastes a round trip.
	playerListLimit = 100
)

var (
	ErrMalformedResponse = errors.New("query: malformed response")
	ErrHeaderMismatch    = errors.New("query: response header mismatch")
)

// Client issues protocol queries with a per-exchange deadline. The zero value
// is not usable; construct with NewClient.
type Client struct {
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Query performs the ping, info and rules exchanges against one server and,
// for small servers, the detailed player list. The reported Ping is the
// round-trip time of the ping echo.
func (c *Client) Query(ctx context.Context, host string, port uint16) (*domain.QueryPayload, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("query: resolve %s:%d: %w", host, port, err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("query: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	header := buildHeader(addr)

	rtt, err := c.pingExchange(conn, header)
	if err != nil {
		return nil, err
	}

	infoBody, err := c.exchange(conn, header, opcodeInfo, nil)
	if err != nil {
		return nil, err
	}
	payload, err := parseInfo(infoBody)
	if err != nil {
		return nil, err
	}
	payload.Ping = rtt.Milliseconds()

	rulesBody, err := c.exchange(conn, header, opcodeRules, nil)
	if err != nil {
		return nil, err
	}
	payload.Rules, err = parseRules(rulesBody)
	if err != nil {
		return nil, err
	}

	if payload.Online > 0 && payload.Online <= playerListLimit {
		// Player list failures are tolerable; the server is demonstrably up.
		if playersBody, err := c.exchange(conn, header, opcodePlayers, nil); err == nil {
			if players, err := parsePlayers(playersBody); err == nil {
				payload.Players = players
			}
		}
	}

	return payload, nil
}

// pingExchange sends the echo opcode with a random cookie and measures the
// round trip. The cookie ties the reply to this request.
func (c *Client) pingExchange(conn *net.UDPConn, header []byte) (time.Duration, error) {
	cookie := binary.LittleEndian.AppendUint32(nil, rand.Uint32())

	started := time.Now()
	body, err := c.exchange(conn, header, opcodePing, cookie)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(started)

	if !bytes.Equal(body, cookie) {
		return 0, ErrMalformedResponse
	}
	return rtt, nil
}

func buildHeader(addr *net.UDPAddr) []byte {
	header := make([]byte, 0, headerSize)
	header = append(header, 'S', 'A', 'M', 'P')
	header = append(header, addr.IP.To4()...)
	header = binary.LittleEndian.AppendUint16(header, uint16(addr.Port))
	return header
}

// exchange sends one opcode packet and returns the response body with the
// echoed header stripped.
func (c *Client) exchange(conn *net.UDPConn, header []byte, opcode byte, extra []byte) ([]byte, error) {
	packet := append(append([]byte{}, header...), opcode)
	packet = append(packet, extra...)
	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("query: send %q packet: %w", opcode, err)
	}

	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("query: read %q response: %w", opcode, err)
	}
	if n < headerSize+1 {
		return nil, ErrMalformedResponse
	}
	if string(buf[:4]) != "SAMP" || buf[headerSize] != opcode {
		return nil, ErrHeaderMismatch
	}
	return buf[headerSize+1 : n], nil
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) uint8() uint8 {
	if r.err != nil || r.pos+1 > len(r.buf) {
		r.err = ErrMalformedResponse
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) uint16() uint16 {
	if r.err != nil || r.pos+2 > len(r.buf) {
		r.err = ErrMalformedResponse
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) uint32() uint32 {
	if r.err != nil || r.pos+4 > len(r.buf) {
		r.err = ErrMalformedResponse
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) int32() int32 {
	if r.err != nil || r.pos+4 > len(r.buf) {
		r.err = ErrMalformedResponse
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v
}

func (r *reader) longString() string {
	length := int(r.int32())
	return r.take(length)
}

func (r *reader) shortString() string {
	length := int(r.uint8())
	return r.take(length)
}

func (r *reader) take(length int) string {
	if r.err != nil || length < 0 || r.pos+length > len(r.buf) {
		r.err = ErrMalformedResponse
		return ""
	}
	v := string(r.buf[r.pos : r.pos+length])
	r.pos += length
	return v
}

func parseInfo(body []byte) (*domain.QueryPayload, error) {
	r := &reader{buf: body}
	payload := &domain.QueryPayload{
		Passworded: r.uint8() != 0,
		Online:     int(r.uint16()),
		MaxPlayers: int(r.uint16()),
		Hostname:   r.longString(),
		Gamemode:   r.longString(),
		Language:   r.longString(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return payload, nil
}

func parseRules(body []byte) (map[string]string, error) {
	r := &reader{buf: body}
	count := int(r.uint16())
	rules := make(map[string]string, count)
	for i := 0; i < count; i++ {
		name := r.shortString()
		value := r.shortString()
		if r.err != nil {
			return nil, r.err
		}
		rules[name] = value
	}
	return rules, nil
}

func parsePlayers(body []byte) ([]domain.Player, error) {
	r := &reader{buf: body}
	count := int(r.uint16())
	players := make([]domain.Player, 0, count)
	for i := 0; i < count; i++ {
		player := domain.Player{
			ID:    r.uint8(),
			Name:  r.shortString(),
			Score: r.int32(),
			Ping:  r.uint32(),
		}
		if r.err != nil {
			return nil, r.err
		}
		players = append(players, player)
	}
	return players, nil
}
