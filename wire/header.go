package wire

import (
	"fmt"
)

// HeaderForm distinguishes the two QUIC packet header forms.
type HeaderForm int

const (
	HeaderFormShort HeaderForm = iota
	HeaderFormLong
)

// LongHeaderType is the packet type carried in a long header.
type LongHeaderType int

const (
	LongHeaderInitial LongHeaderType = iota
	LongHeaderZeroRTT
	LongHeaderHandshake
	LongHeaderRetry
)

var longHeaderTypeNames = [...]string{
	LongHeaderInitial:   "initial",
	LongHeaderZeroRTT:   "zeroRTT",
	LongHeaderHandshake: "handshake",
	LongHeaderRetry:     "retry",
}

func (t LongHeaderType) String() string {
	return longHeaderTypeNames[t]
}

// ProtectionType is the key phase of a short header packet.
type ProtectionType int

const (
	KeyPhaseZero ProtectionType = iota
	KeyPhaseOne
)

// Initial byte layout.
//
// Long header:
//
//	+-+-+-+-+-+-+-+-+
//	|1|1|T T|R R|P P|
//	+-+-+-+-+-+-+-+-+
//
// Short header:
//
//	+-+-+-+-+-+-+-+-+
//	|0|1|S|R|R|K|P P|
//	+-+-+-+-+-+-+-+-+
const (
	headerFormMask    = 0x80
	fixedBitMask      = 0x40
	longTypeMask      = 0x30
	longTypeShift     = 4
	longReservedMask  = 0x0c
	shortReservedMask = 0x18
	keyPhaseMask      = 0x04
	pnLenMask         = 0x03

	retryIntegrityTagLen = 16
	maxPacketLenSize     = 4
	sampleLen            = 16
)

// MinInitialPacketSize is the smallest datagram that may carry a
// client Initial packet.
// https://www.rfc-editor.org/rfc/rfc9000.html#section-14.1
const MinInitialPacketSize = 1200

// VersionNegotiationSentinel marks a version negotiation packet.
const VersionNegotiationSentinel uint32 = 0

// IsLongHeader reports whether the initial byte starts a long header.
func IsLongHeader(b byte) bool {
	return b&headerFormMask != 0
}

func longHeaderType(b byte) LongHeaderType {
	return LongHeaderType(b & longTypeMask >> longTypeShift)
}

// Packet number length bits sit at the same position in both forms.
func packetNumberLenFromByte(b byte) int {
	return int(b&pnLenMask) + 1
}

func packetNumberLenBits(n int) byte {
	return byte(n - 1)
}

// Header is a parsed QUIC packet header. Form selects between the long
// and short variants; long-only and short-only fields are zero in the
// other form.
type Header struct {
	Form     HeaderForm
	Type     LongHeaderType // long only
	KeyPhase ProtectionType // short only
	Version  uint32
	DCID     ConnectionID
	SCID     ConnectionID

	Token        []byte       // Initial and Retry
	ODCID        ConnectionID // Retry; not written or read by the codec
	IntegrityTag []byte       // Retry

	PacketNumber uint64
	// Length is the remainder length field of a long header packet:
	// packet number plus payload.
	Length uint64
	// PNOffset is the byte offset of the packet number field.
	PNOffset int
}

func (h *Header) String() string {
	if h.Form == HeaderFormLong {
		return fmt.Sprintf("type=%s version=%x dcid=%s scid=%s", h.Type, h.Version, h.DCID, h.SCID)
	}
	return fmt.Sprintf("type=short dcid=%s", h.DCID)
}

// parseLongHeaderInvariant reads the version-independent part of a
// long header: initial byte, version, and both connection IDs.
// https://www.rfc-editor.org/rfc/rfc8999.html
func parseLongHeaderInvariant(dec *codec, h *Header) error {
	var initial byte
	if !dec.readByte(&initial) || !dec.readUint32(&h.Version) {
		return errInvalidPacket
	}
	h.Form = HeaderFormLong
	h.Type = longHeaderType(initial)
	var length uint8
	if !dec.readByte(&length) {
		return errInvalidPacket
	}
	if length > MaxCIDLength {
		return errProtocolViolation
	}
	if h.DCID = dec.read(int(length)); h.DCID == nil {
		return errInvalidPacket
	}
	if !dec.readByte(&length) {
		return errInvalidPacket
	}
	if length > MaxCIDLength {
		return errProtocolViolation
	}
	if h.SCID = dec.read(int(length)); h.SCID == nil {
		return errInvalidPacket
	}
	return nil
}

// ParseHeader parses a packet header up to (not including) the packet
// number. shortCIDLen is the length of connection IDs this endpoint
// issues, needed because short headers do not encode it. The returned
// count is the number of bytes consumed; for Retry packets the whole
// datagram is consumed.
func ParseHeader(b []byte, shortCIDLen int) (*Header, int, error) {
	if len(b) == 0 {
		return nil, 0, errInvalidPacket
	}
	if IsLongHeader(b[0]) {
		return parseLongHeader(b)
	}
	return parseShortHeader(b, shortCIDLen)
}

func parseLongHeader(b []byte) (*Header, int, error) {
	h := &Header{}
	dec := newCodec(b)
	if err := parseLongHeaderInvariant(&dec, h); err != nil {
		return nil, 0, err
	}
	if h.Version == VersionNegotiationSentinel {
		return nil, 0, newError(FrameEncodingError, "version negotiation is not a regular packet")
	}
	if h.Type == LongHeaderRetry {
		// Trailing 16 bytes are the integrity tag, the rest of the
		// datagram is the token.
		if dec.len() <= retryIntegrityTagLen {
			return nil, 0, errInvalidPacket
		}
		h.Token = dec.read(dec.len() - retryIntegrityTagLen)
		h.IntegrityTag = dec.read(retryIntegrityTagLen)
		return h, len(b), nil
	}
	if h.Type == LongHeaderInitial {
		var tokenLen uint64
		if !dec.readVarint(&tokenLen) {
			return nil, 0, errInvalidPacket
		}
		if h.Token = dec.read(int(tokenLen)); h.Token == nil {
			return nil, 0, errInvalidPacket
		}
		if tokenLen == 0 {
			h.Token = nil
		}
	}
	if !dec.readVarint(&h.Length) {
		return nil, 0, errInvalidPacket
	}
	pnLen := packetNumberLenFromByte(b[0])
	if uint64(pnLen) > h.Length || dec.len() < int(h.Length) {
		return nil, 0, errInvalidPacket
	}
	h.PNOffset = dec.offset()
	return h, dec.offset(), nil
}

func parseShortHeader(b []byte, shortCIDLen int) (*Header, int, error) {
	if shortCIDLen > MaxCIDLength {
		return nil, 0, errProtocolViolation
	}
	h := &Header{Form: HeaderFormShort}
	if b[0]&fixedBitMask == 0 {
		return nil, 0, newError(FrameEncodingError, "fixed bit is 0")
	}
	if b[0]&shortReservedMask != 0 {
		return nil, 0, newError(ProtocolViolation, "reserved bits are set")
	}
	if b[0]&keyPhaseMask != 0 {
		h.KeyPhase = KeyPhaseOne
	}
	dec := newCodec(b)
	dec.skip(1)
	if h.DCID = dec.read(shortCIDLen); h.DCID == nil {
		return nil, 0, errInvalidPacket
	}
	h.PNOffset = dec.offset()
	return h, dec.offset(), nil
}

// ParsePacketNumber reads and expands the truncated packet number of
// an unprotected header.
func ParsePacketNumber(h *Header, b []byte, expected uint64) error {
	pnLen := packetNumberLenFromByte(b[0])
	dec := newCodec(b)
	if !dec.skip(h.PNOffset) {
		return errInvalidPacket
	}
	var truncated uint64
	if !dec.readPacketNumber(&truncated, pnLen) {
		return errInvalidPacket
	}
	h.PacketNumber = DecodePacketNumber(truncated, pnLen, expected)
	return nil
}

// RoutingData is the digest of a header peek that the server needs to
// route a datagram.
type RoutingData struct {
	Form             HeaderForm
	IsInitial        bool
	IsUsingClientCID bool
	DestConnID       ConnectionID
	SrcConnID        ConnectionID
	Version          uint32
}

// ParseRoutingData extracts routing fields from the start of a
// datagram without touching protected fields.
func ParseRoutingData(b []byte, shortCIDLen int) (*RoutingData, error) {
	if len(b) == 0 {
		return nil, errInvalidPacket
	}
	if IsLongHeader(b[0]) {
		h := Header{}
		dec := newCodec(b)
		if err := parseLongHeaderInvariant(&dec, &h); err != nil {
			return nil, err
		}
		isInitial := h.Type == LongHeaderInitial && h.Version != VersionNegotiationSentinel
		return &RoutingData{
			Form:             HeaderFormLong,
			IsInitial:        isInitial,
			IsUsingClientCID: isInitial || h.Type == LongHeaderZeroRTT,
			DestConnID:       h.DCID,
			SrcConnID:        h.SCID,
			Version:          h.Version,
		}, nil
	}
	if b[0]&fixedBitMask == 0 {
		return nil, newError(FrameEncodingError, "fixed bit is 0")
	}
	dec := newCodec(b)
	dec.skip(1)
	dcid := dec.read(shortCIDLen)
	if dcid == nil {
		return nil, errInvalidPacket
	}
	return &RoutingData{
		Form:       HeaderFormShort,
		DestConnID: ConnectionID(dcid),
	}, nil
}
