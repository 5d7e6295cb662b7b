package probe

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const (
	packetHandshake = 0x00
	packetStatus    = 0x00
	stateStatus     = 1

	maxVarIntBytes = 5
	// Status responses are a few KiB; favicons push them towards 64 KiB.
	maxPacketSize = 1 << 21
)

// ProtocolError reports a malformed or unexpected response.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

func appendVarInt(b []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		b = append(b, byte(u)|0x80)
		u >>= 7
	}
	return append(b, byte(u))
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, protocolErrorf("varint is too long")
}

func appendString(b []byte, s string) []byte {
	b = appendVarInt(b, int32(len(s)))
	return append(b, s...)
}

// frame prefixes a packet body with its length.
func frame(body []byte) []byte {
	return append(appendVarInt(nil, int32(len(body))), body...)
}

func handshakePacket(protocolVersion int, host string, port int) []byte {
	body := appendVarInt(nil, packetHandshake)
	body = appendVarInt(body, int32(protocolVersion))
	body = appendString(body, host)
	body = binary.BigEndian.AppendUint16(body, uint16(port))
	body = appendVarInt(body, stateStatus)
	return frame(body)
}

func statusRequestPacket() []byte {
	return frame(appendVarInt(nil, packetStatus))
}

// statusResponse is the JSON document returned by the server.
type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
}

// requestStatus performs the handshake and status exchange on rw.
func requestStatus(rw io.ReadWriter, protocolVersion int, host string, port int) (ServerInfo, error) {
	request := append(handshakePacket(protocolVersion, host, port), statusRequestPacket()...)
	if _, err := rw.Write(request); err != nil {
		return ServerInfo{}, err
	}

	payload, err := readStatusPayload(bufio.NewReader(rw))
	if err != nil {
		return ServerInfo{}, err
	}
	return parseStatus(payload)
}

func readStatusPayload(r *bufio.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > maxPacketSize {
		return nil, protocolErrorf("invalid packet length %d", length)
	}

	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}

	body := bytes.NewReader(packet)
	id, err := readVarInt(body)
	if err != nil {
		return nil, protocolErrorf("truncated packet id")
	}
	if id != packetStatus {
		return nil, protocolErrorf("unexpected packet id 0x%02x", id)
	}

	size, err := readVarInt(body)
	if err != nil {
		return nil, protocolErrorf("truncated status length")
	}
	if size < 0 || int(size) > body.Len() {
		return nil, protocolErrorf("status length %d exceeds packet", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(body, payload); err != nil {
		return nil, protocolErrorf("truncated status payload")
	}
	return payload, nil
}

func parseStatus(payload []byte) (ServerInfo, error) {
	var resp statusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return ServerInfo{}, protocolErrorf("invalid status json: %v", err)
	}

	return ServerInfo{
		Version:     CleanText(resp.Version.Name),
		Description: CleanText(descriptionText(resp.Description)),
		MaxPlayers:  resp.Players.Max,
	}, nil
}
