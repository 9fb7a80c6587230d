package nightscout

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Engine.IO packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

// Engine.IO v4 server defaults, used until the open packet arrives.
const (
	defaultPingInterval = 25000
	defaultPingTimeout  = 20000
)

// handshake is the payload of the Engine.IO open packet. Intervals are in
// milliseconds.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// liveness is how long the client waits for any frame before giving up.
func (h handshake) liveness() time.Duration {
	interval, timeout := h.PingInterval, h.PingTimeout
	if interval <= 0 {
		interval = defaultPingInterval
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return time.Duration(interval+timeout) * time.Millisecond
}

var errShortPacket = errors.New("socket.io: short packet")

// packet is a decoded Engine.IO frame. The sio fields are only set for messages.
type packet struct {
	eio  byte
	sio  byte
	nsp  string
	id   int // -1 when no ack id
	data json.RawMessage
}

// parsePacket decodes one websocket text frame.
func parsePacket(raw string) (packet, error) {
	if raw == "" {
		return packet{}, errShortPacket
	}
	p := packet{eio: raw[0], nsp: "/", id: -1}
	if p.eio != eioMessage {
		p.data = json.RawMessage(raw[1:])
		return p, nil
	}
	rest := raw[1:]
	if rest == "" {
		return packet{}, errShortPacket
	}
	p.sio = rest[0]
	rest = rest[1:]

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.nsp = rest
			return p, nil
		}
		p.nsp = rest[:comma]
		rest = rest[comma+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return packet{}, fmt.Errorf("socket.io: ack id: %w", err)
		}
		p.id = id
		rest = rest[digits:]
	}
	if rest != "" {
		p.data = json.RawMessage(rest)
	}
	return p, nil
}

// event splits an event packet payload into its name and arguments.
func (p packet) event() (string, []json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(p.data, &arr); err != nil {
		return "", nil, fmt.Errorf("socket.io: event payload: %w", err)
	}
	if len(arr) == 0 {
		return "", nil, errors.New("socket.io: empty event")
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return "", nil, fmt.Errorf("socket.io: event name: %w", err)
	}
	return name, arr[1:], nil
}

func encodeConnect(nsp string) string {
	return string([]byte{eioMessage, sioConnect}) + nsp + ","
}

// encodeEvent builds an event frame; id < 0 requests no acknowledgement.
func encodeEvent(nsp string, id int, name string, args ...any) (string, error) {
	payload := append([]any{name}, args...)
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteByte(eioMessage)
	sb.WriteByte(sioEvent)
	sb.WriteString(nsp)
	sb.WriteByte(',')
	if id >= 0 {
		sb.WriteString(strconv.Itoa(id))
	}
	sb.Write(b)
	return sb.String(), nil
}

// socketURL converts a Nightscout base URL into its websocket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}
