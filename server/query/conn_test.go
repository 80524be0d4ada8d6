package query

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	gophertunnelquery "github.com/sandertv/gophertunnel/query"
)

type packetRecorder struct {
	writes [][]byte
}

func (p *packetRecorder) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, errors.New("not implemented")
}

func (p *packetRecorder) WriteTo(b []byte, _ net.Addr) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *packetRecorder) Close() error                     { return nil }
func (p *packetRecorder) LocalAddr() net.Addr              { return &net.UDPAddr{Port: 19132} }
func (p *packetRecorder) SetDeadline(time.Time) error      { return nil }
func (p *packetRecorder) SetReadDeadline(time.Time) error  { return nil }
func (p *packetRecorder) SetWriteDeadline(time.Time) error { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueryResponsesParseWithGophertunnel(t *testing.T) {
	expected := Data{
		HostName:         "Test Server",
		WorldName:        "Overworld",
		Engine:           "Adamant (integration)",
		Version:          "1.21.100",
		PlayerCount:      3,
		MaxPlayers:       25,
		PlayerNames:      []string{"Alex", "Bob", "Steve"},
		WhitelistEnabled: true,
		TPS:              19.5,
		LoadedChunks:     81,
	}
	l, err := Listen("127.0.0.1:0", discard(), func() Data { return expected })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	addr := l.Addr().(*net.UDPAddr)
	information, err := gophertunnelquery.Do(addr.String())
	if err != nil {
		t.Fatalf("query do: %v", err)
	}
	checks := map[string]string{
		"hostname":      expected.HostName,
		"version":       expected.Version,
		"server_engine": expected.Engine,
		"map":           expected.WorldName,
		"numplayers":    "3",
		"maxplayers":    "25",
		"whitelist":     "on",
		"hostport":      strconv.Itoa(addr.Port),
		"hostip":        "127.0.0.1",
		"tps":           "19.50",
		"loaded_chunks": "81",
	}
	for key, want := range checks {
		got, ok := information[key]
		if !ok {
			t.Fatalf("expected key %q to be present in query information", key)
		}
		if got != want {
			t.Fatalf("unexpected value for key %q: got %q, want %q", key, got, want)
		}
	}
}

func TestHandleQueryAcceptsASCIIChallengeTokens(t *testing.T) {
	recorder := &packetRecorder{}
	l := newListener(recorder, discard(), nil)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 43210}
	l.tokens[addr.String()] = token{value: 7654321, expiry: time.Now().Add(time.Minute)}

	payload := append([]byte(nil), queryVersion[:]...)
	payload = append(payload, queryTypeInformation)
	payload = binary.BigEndian.AppendUint32(payload, 42)
	payload = append(payload, "7654321"...)
	payload = append(payload, 0x00, 0xff, 0xff, 0xff, 0x01)

	if !l.handleQuery(payload, addr) {
		t.Fatalf("expected query information request to be handled")
	}
	if len(recorder.writes) != 1 {
		t.Fatalf("expected one response write, got %d", len(recorder.writes))
	}
}

func TestHandleQueryRejectsUnknownTokens(t *testing.T) {
	recorder := &packetRecorder{}
	l := newListener(recorder, discard(), nil)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 43210}

	payload := append([]byte(nil), queryVersion[:]...)
	payload = append(payload, queryTypeInformation)
	payload = binary.BigEndian.AppendUint32(payload, 1)
	payload = binary.BigEndian.AppendUint32(payload, 99)
	if !l.handleQuery(payload, addr) {
		t.Fatalf("expected information request to be consumed")
	}
	if len(recorder.writes) != 0 {
		t.Fatalf("expected no response for an unknown token")
	}
	if l.handleQuery([]byte{0x01, 0x02, 0x03}, addr) {
		t.Fatalf("non-query datagrams must not be handled")
	}
}
