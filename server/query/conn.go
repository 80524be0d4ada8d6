// Package query implements a UDP responder for the Minecraft query protocol,
// reporting the state of a server supplied by a ProviderFunc.
package query

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	queryTypeHandshake   = 0x09
	queryTypeInformation = 0x00
)

var (
	querySplitNum  = [...]byte{'S', 'P', 'L', 'I', 'T', 'N', 'U', 'M', 0x00}
	queryPlayerKey = [...]byte{0x00, 0x01, 'p', 'l', 'a', 'y', 'e', 'r', '_', 0x00, 0x00}
	queryVersion   = [...]byte{0xfe, 0xfd}
)

// Listener answers query requests received on a UDP socket.
type Listener struct {
	conn     net.PacketConn
	log      *slog.Logger
	provider ProviderFunc
	host     string
	port     int

	mu     sync.Mutex
	tokens map[string]token
	rng    *rand.Rand

	done chan struct{}
}

type token struct {
	value  int32
	expiry time.Time
}

// Listen starts answering query requests on the UDP address passed using the
// Data returned by provider.
func Listen(address string, log *slog.Logger, provider ProviderFunc) (*Listener, error) {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	l := newListener(conn, log.With("net origin", "query"), provider)
	go l.serve()
	return l, nil
}

func newListener(conn net.PacketConn, log *slog.Logger, provider ProviderFunc) *Listener {
	l := &Listener{
		conn:     conn,
		log:      log,
		provider: provider,
		tokens:   make(map[string]token),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		done:     make(chan struct{}),
	}
	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		l.host, l.port = local.IP.String(), local.Port
		if local.IP == nil || local.IP.IsUnspecified() {
			l.host = "0.0.0.0"
		}
	}
	return l
}

// Addr returns the address the Listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Close stops the Listener.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

// serve reads datagrams until the connection is closed.
func (l *Listener) serve() {
	defer close(l.done)
	buf := make([]byte, 1500)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Error("query read: " + err.Error())
			}
			return
		}
		l.handleQuery(buf[:n], addr)
	}
}

// handleQuery processes a query request. It returns false if the datagram was
// not a query request.
func (l *Listener) handleQuery(b []byte, addr net.Addr) bool {
	if len(b) < 7 || b[0] != queryVersion[0] || b[1] != queryVersion[1] {
		return false
	}
	sequence := int32(binary.BigEndian.Uint32(b[3:7]))
	switch b[2] {
	case queryTypeHandshake:
		l.writeHandshake(addr, sequence, l.newToken(addr.String()))
		return true
	case queryTypeInformation:
		if tok, ok := parseTokenValue(b[7:]); ok && l.validateToken(addr.String(), tok) {
			l.writeInfo(addr, sequence)
		}
		return true
	}
	return false
}

// newToken issues a temporary token for the address passed. The token must be
// sent back in the information request.
func (l *Listener) newToken(addr string) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for a, t := range l.tokens {
		if now.After(t.expiry) {
			delete(l.tokens, a)
		}
	}
	value := l.rng.Int31()
	l.tokens[addr] = token{value: value, expiry: now.Add(30 * time.Second)}
	return value
}

// validateToken checks whether a previously issued token remains valid for
// the address passed.
func (l *Listener) validateToken(addr string, value int32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[addr]
	if !ok || time.Now().After(t.expiry) || t.value != value {
		delete(l.tokens, addr)
		return false
	}
	return true
}

// writeHandshake writes the handshake response holding the token issued.
func (l *Listener) writeHandshake(addr net.Addr, sequence, tok int32) {
	buf := bytes.NewBuffer(make([]byte, 0, 1+4+12))
	buf.WriteByte(queryTypeHandshake)
	_ = binary.Write(buf, binary.BigEndian, sequence)

	tokenStr := strconv.FormatInt(int64(tok), 10)
	if len(tokenStr) > 12 {
		tokenStr = tokenStr[:12]
	}
	buf.WriteString(tokenStr)
	if padding := 12 - len(tokenStr); padding > 0 {
		buf.Write(make([]byte, padding))
	}
	if _, err := l.conn.WriteTo(buf.Bytes(), addr); err != nil {
		l.log.Debug("query handshake write failed", "err", err, "raddr", addr.String())
	}
}

// writeInfo writes the full server information for a validated request.
func (l *Listener) writeInfo(addr net.Addr, sequence int32) {
	var data Data
	if l.provider != nil {
		data = l.provider()
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.WriteByte(queryTypeInformation)
	_ = binary.Write(buf, binary.BigEndian, sequence)
	buf.Write(querySplitNum[:])
	buf.WriteByte(0x80)
	buf.WriteByte(0x00)

	for _, kv := range data.keyValues(l.host, l.port) {
		buf.WriteString(kv.key)
		buf.WriteByte(0x00)
		buf.WriteString(kv.value)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)
	buf.Write(queryPlayerKey[:])
	for _, name := range data.PlayerNames {
		buf.WriteString(name)
		buf.WriteByte(0x00)
	}
	buf.WriteByte(0x00)

	if _, err := l.conn.WriteTo(buf.Bytes(), addr); err != nil {
		l.log.Debug("query info write failed", "err", err, "raddr", addr.String())
	}
}

// parseTokenValue reads the token of an information request, which is sent
// either as ASCII digits or as a big endian int32.
func parseTokenValue(payload []byte) (int32, bool) {
	trimmed := payload
	if i := bytes.Index(trimmed, []byte{0xff, 0xff, 0xff, 0x01}); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = bytes.TrimRight(trimmed, "\x00")
	if len(trimmed) > 0 {
		if value, err := strconv.ParseInt(string(trimmed), 10, 32); err == nil {
			return int32(value), true
		}
	}
	if len(payload) >= 4 {
		return int32(binary.BigEndian.Uint32(payload[:4])), true
	}
	return 0, false
}
