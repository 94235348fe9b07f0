// Package gwire implements the gateway wire framing codec: an
// 8-byte header (u16 len, u8 type, u8 flags, u32 id) in network byte order
// followed by a proto3-flagged payload. The growable-scratch-buffer decode
// pattern is grounded on NimbleMarkets-dbn-go's DbnScanner
// (dbn_scanner.go): bytes pushed in through Decoder.Feed accumulate in one
// growable buffer that is compacted after each consumed frame; each decoded
// frame's payload is copied into a slice of its own.
package gwire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire header width in bytes.
const HeaderSize = 8

// FlagProto3 selects the proto3 payload serializer (the only one this
// platform ships, but the bit is carried for forward compatibility with
// alternate wire encodings).
const FlagProto3 byte = 1 << 0

// Type is the single-ASCII-character message type discriminator.
type Type byte

const (
	TypeSubscribe        Type = 's'
	TypeSubscribeAccount Type = 'a'
	TypeNewOrder         Type = 'n'
	TypeCancelOrder      Type = 'c'
	TypeOmLogon          Type = 'l'
	TypeTrade            Type = 't'
	TypeTickTop          Type = 'b'
	TypeOrderExec        Type = 'e'
	TypeOrderFill        Type = 'f'
	TypeAccountUpdate    Type = 'u'
	TypeError            Type = 'x'
)

func (t Type) String() string {
	switch t {
	case TypeSubscribe:
		return "subscribe"
	case TypeSubscribeAccount:
		return "subscribe_account"
	case TypeNewOrder:
		return "new_order"
	case TypeCancelOrder:
		return "cancel_order"
	case TypeOmLogon:
		return "om_logon"
	case TypeTrade:
		return "trade"
	case TypeTickTop:
		return "tick_top"
	case TypeOrderExec:
		return "order_exec"
	case TypeOrderFill:
		return "order_fill"
	case TypeAccountUpdate:
		return "account_update"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("type(%q)", byte(t))
	}
}

// Header is the fixed 8-byte frame prefix.
type Header struct {
	Len   uint16 // total frame length, header included
	Type  Type
	Flags byte
	ID    uint32 // request/response correlation id
}

// EncodeHeader writes h to the first HeaderSize bytes of buf. buf must be
// at least HeaderSize long.
func EncodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.Len)
	buf[2] = byte(h.Type)
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:8], h.ID)
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) Header {
	return Header{
		Len:   binary.BigEndian.Uint16(buf[0:2]),
		Type:  Type(buf[2]),
		Flags: buf[3],
		ID:    binary.BigEndian.Uint32(buf[4:8]),
	}
}

// EncodeFrame builds a complete frame (header + payload) for t/id with the
// given serialized payload, setting FlagProto3.
func EncodeFrame(t Type, id uint32, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > 0xFFFF {
		return nil, fmt.Errorf("gwire: frame length %d exceeds u16 max", total)
	}
	buf := make([]byte, total)
	EncodeHeader(buf, Header{Len: uint16(total), Type: t, Flags: FlagProto3, ID: id})
	copy(buf[HeaderSize:], payload)
	return buf, nil
}
