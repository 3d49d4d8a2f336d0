package wire

import (
	"fmt"
	"math"
)

// Frame types.
// https://www.rfc-editor.org/rfc/rfc9000.html#frames
const (
	FrameTypePadding     = 0x00
	FrameTypePing        = 0x01
	FrameTypeAck         = 0x02
	FrameTypeAckECN      = 0x03
	FrameTypeResetStream = 0x04
	FrameTypeStopSending = 0x05
	FrameTypeCrypto      = 0x06
	FrameTypeNewToken    = 0x07
	FrameTypeStream      = 0x08
	FrameTypeStreamEnd   = 0x0f

	FrameTypeMaxData            = 0x10
	FrameTypeMaxStreamData      = 0x11
	FrameTypeMaxStreamsBidi     = 0x12
	FrameTypeMaxStreamsUni      = 0x13
	FrameTypeDataBlocked        = 0x14
	FrameTypeStreamDataBlocked  = 0x15
	FrameTypeStreamsBlockedBidi = 0x16
	FrameTypeStreamsBlockedUni  = 0x17

	FrameTypeNewConnectionID    = 0x18
	FrameTypeRetireConnectionID = 0x19
	FrameTypePathChallenge      = 0x1a
	FrameTypePathResponse       = 0x1b

	FrameTypeConnectionClose  = 0x1c
	FrameTypeApplicationClose = 0x1d
	FrameTypeHandshakeDone    = 0x1e

	// Partial-reliability extension frames.
	FrameTypeMinStreamData     = 0xfe
	FrameTypeExpiredStreamData = 0xff
)

const (
	maxAckBlocks           = 1024
	maxReasonPhraseLength  = 1024
	defaultAckDelayExp     = 3
	statelessResetTokenLen = 16
)

// CodecParams carries per-connection parameters the frame codec needs.
type CodecParams struct {
	// AckDelayExponent is the peer's negotiated exponent, applied to
	// the ACK delay of short-header packets. Zero means the default.
	AckDelayExponent uint8
}

func (p CodecParams) ackDelayExponent() uint8 {
	if p.AckDelayExponent == 0 {
		return defaultAckDelayExp
	}
	return p.AckDelayExponent
}

// Frame is a decoded QUIC frame.
type Frame interface {
	EncodedLen() int
	Encode(b []byte) (int, error)
	Decode(b []byte) (int, error)
}

// ParseFrame reads one frame from b. On failure the returned error is
// an *Error whose FrameType field carries the offending frame type.
func ParseFrame(b []byte, hdr *Header, params CodecParams) (Frame, int, error) {
	var typ uint64
	dec := newCodec(b)
	if !dec.readVarint(&typ) {
		return nil, 0, newError(FrameEncodingError, "frame type")
	}
	if typ >= FrameTypeStream && typ <= FrameTypeStreamEnd {
		f := &StreamFrame{}
		n, err := f.Decode(b)
		return f, n, err
	}
	var f Frame
	switch typ {
	case FrameTypePadding:
		f = &PaddingFrame{}
	case FrameTypePing:
		f = &PingFrame{}
	case FrameTypeAck, FrameTypeAckECN:
		a := &AckFrame{}
		n, err := a.decodeWith(b, hdr != nil && hdr.Form == HeaderFormLong, params)
		return a, n, err
	case FrameTypeResetStream:
		f = &ResetStreamFrame{}
	case FrameTypeStopSending:
		f = &StopSendingFrame{}
	case FrameTypeCrypto:
		f = &CryptoFrame{}
	case FrameTypeNewToken:
		f = &NewTokenFrame{}
	case FrameTypeMaxData:
		f = &MaxDataFrame{}
	case FrameTypeMaxStreamData:
		f = &MaxStreamDataFrame{}
	case FrameTypeMaxStreamsBidi, FrameTypeMaxStreamsUni:
		f = &MaxStreamsFrame{}
	case FrameTypeDataBlocked:
		f = &DataBlockedFrame{}
	case FrameTypeStreamDataBlocked:
		f = &StreamDataBlockedFrame{}
	case FrameTypeStreamsBlockedBidi, FrameTypeStreamsBlockedUni:
		f = &StreamsBlockedFrame{}
	case FrameTypeNewConnectionID:
		f = &NewConnectionIDFrame{}
	case FrameTypeRetireConnectionID:
		f = &RetireConnectionIDFrame{}
	case FrameTypePathChallenge:
		f = &PathChallengeFrame{}
	case FrameTypePathResponse:
		f = &PathResponseFrame{}
	case FrameTypeConnectionClose, FrameTypeApplicationClose:
		f = &ConnectionCloseFrame{}
	case FrameTypeHandshakeDone:
		f = &HandshakeDoneFrame{}
	case FrameTypeMinStreamData:
		f = &MinStreamDataFrame{}
	case FrameTypeExpiredStreamData:
		f = &ExpiredStreamDataFrame{}
	default:
		return nil, 0, newFrameError(typ, "unknown frame")
	}
	n, err := f.Decode(b)
	return f, n, err
}

// The PADDING frame (type=0x00) has no semantic value. A run of
// consecutive padding bytes decodes as a single frame.
type PaddingFrame struct {
	Length int
}

func (s *PaddingFrame) EncodedLen() int {
	return s.Length
}

func (s *PaddingFrame) Encode(b []byte) (int, error) {
	if len(b) < s.Length {
		return 0, errShortBuffer
	}
	for i := 0; i < s.Length; i++ {
		b[i] = 0
	}
	return s.Length, nil
}

func (s *PaddingFrame) Decode(b []byte) (int, error) {
	n := 1
	if len(b) == 0 {
		s.Length = n
		return n, nil
	}
	for _, v := range b[n:] {
		if v != 0 {
			break
		}
		n++
	}
	s.Length = n
	return n, nil
}

func (s *PaddingFrame) String() string {
	return fmt.Sprintf("padding{length=%d}", s.Length)
}

type PingFrame struct{}

func (s *PingFrame) EncodedLen() int {
	return 1
}

func (s *PingFrame) Encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = FrameTypePing
	return 1, nil
}

func (s *PingFrame) Decode(b []byte) (int, error) {
	return 1, nil
}

func (s *PingFrame) String() string {
	return "ping{}"
}

// AckBlock is an inclusive range of acknowledged packet numbers.
type AckBlock struct {
	Start uint64
	End   uint64
}

// ECNCounts are the three ECN counters of an ACK_ECN frame.
type ECNCounts struct {
	ECT0 uint64
	ECT1 uint64
	CE   uint64
}

// AckFrame acknowledges ranges of received packets.
// AckBlocks are kept largest-first: AckBlocks[0].End == LargestAck and
// for all i, AckBlocks[i].Start > AckBlocks[i+1].End+1.
// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.3
type AckFrame struct {
	LargestAck uint64
	// AckDelay is in microseconds, already scaled by the exponent.
	AckDelay  uint64
	AckBlocks []AckBlock
	ECN       *ECNCounts

	// AckDelayExponent used on encode; zero means the default of 3.
	AckDelayExponent uint8
}

func (s *AckFrame) exponent() uint8 {
	if s.AckDelayExponent == 0 {
		return defaultAckDelayExp
	}
	return s.AckDelayExponent
}

func (s *AckFrame) EncodedLen() int {
	if len(s.AckBlocks) == 0 {
		return 0
	}
	first := s.AckBlocks[0]
	n := 1 +
		varintLen(s.LargestAck) +
		varintLen(s.AckDelay>>s.exponent()) +
		varintLen(uint64(len(s.AckBlocks)-1)) +
		varintLen(first.End-first.Start)
	prevStart := first.Start
	for _, r := range s.AckBlocks[1:] {
		n += varintLen(prevStart-r.End-2) + varintLen(r.End-r.Start)
		prevStart = r.Start
	}
	if s.ECN != nil {
		n += varintLen(s.ECN.ECT0) + varintLen(s.ECN.ECT1) + varintLen(s.ECN.CE)
	}
	return n
}

func (s *AckFrame) Encode(b []byte) (int, error) {
	if len(s.AckBlocks) == 0 || s.AckBlocks[0].End != s.LargestAck {
		return 0, newFrameError(FrameTypeAck, "ack blocks")
	}
	enc := newCodec(b)
	typ := uint64(FrameTypeAck)
	if s.ECN != nil {
		typ = FrameTypeAckECN
	}
	first := s.AckBlocks[0]
	ok := enc.writeVarint(typ) &&
		enc.writeVarint(s.LargestAck) &&
		enc.writeVarint(s.AckDelay>>s.exponent()) &&
		enc.writeVarint(uint64(len(s.AckBlocks)-1)) &&
		enc.writeVarint(first.End-first.Start)
	if !ok {
		return 0, errShortBuffer
	}
	prevStart := first.Start
	for _, r := range s.AckBlocks[1:] {
		if prevStart < r.End+2 || r.End < r.Start {
			return 0, newFrameError(FrameTypeAck, "ack blocks")
		}
		if !enc.writeVarint(prevStart-r.End-2) || !enc.writeVarint(r.End-r.Start) {
			return 0, errShortBuffer
		}
		prevStart = r.Start
	}
	if s.ECN != nil {
		ok = enc.writeVarint(s.ECN.ECT0) &&
			enc.writeVarint(s.ECN.ECT1) &&
			enc.writeVarint(s.ECN.CE)
		if !ok {
			return 0, errShortBuffer
		}
	}
	return enc.offset(), nil
}

// Decode assumes a long-header packet, which always uses the default
// ack-delay exponent. ParseFrame applies the negotiated exponent.
func (s *AckFrame) Decode(b []byte) (int, error) {
	return s.decodeWith(b, true, CodecParams{})
}

func (s *AckFrame) decodeWith(b []byte, longHeader bool, params CodecParams) (int, error) {
	dec := newCodec(b)
	var typ, rawDelay, blockCount, firstLen uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.LargestAck) &&
		dec.readVarint(&rawDelay) &&
		dec.readVarint(&blockCount) &&
		dec.readVarint(&firstLen)
	if !ok || blockCount > maxAckBlocks {
		return 0, newFrameError(typ, "ack")
	}
	// Long header packets use the default exponent since the real one
	// has not been negotiated yet.
	exp := params.ackDelayExponent()
	if longHeader {
		exp = defaultAckDelayExp
	}
	if rawDelay != 0 && rawDelay>>(64-uint(exp)) != 0 {
		return 0, newFrameError(typ, "ack delay overflow")
	}
	delay := rawDelay << exp
	if delay > math.MaxInt64 {
		return 0, newFrameError(typ, "ack delay overflow")
	}
	s.AckDelay = delay
	s.AckDelayExponent = exp
	if s.LargestAck < firstLen {
		return 0, newFrameError(typ, "ack first block")
	}
	start := s.LargestAck - firstLen
	s.AckBlocks = append(s.AckBlocks[:0], AckBlock{Start: start, End: s.LargestAck})
	for i := uint64(0); i < blockCount; i++ {
		var gap, blockLen uint64
		if !dec.readVarint(&gap) || !dec.readVarint(&blockLen) {
			return 0, newFrameError(typ, "ack block")
		}
		if start < gap+2 {
			return 0, newFrameError(typ, "ack gap")
		}
		end := start - gap - 2
		if end < blockLen {
			return 0, newFrameError(typ, "ack block length")
		}
		start = end - blockLen
		s.AckBlocks = append(s.AckBlocks, AckBlock{Start: start, End: end})
	}
	if typ == FrameTypeAckECN {
		counts := ECNCounts{}
		ok = dec.readVarint(&counts.ECT0) &&
			dec.readVarint(&counts.ECT1) &&
			dec.readVarint(&counts.CE)
		if !ok {
			return 0, newFrameError(typ, "ack ecn")
		}
		s.ECN = &counts
	} else {
		s.ECN = nil
	}
	return dec.offset(), nil
}

func (s *AckFrame) String() string {
	return fmt.Sprintf("ack{delay=%d largest=%d blocks=%d}", s.AckDelay, s.LargestAck, len(s.AckBlocks))
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.4
type ResetStreamFrame struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func (s *ResetStreamFrame) EncodedLen() int {
	return 1 + varintLen(s.StreamID) +
		varintLen(s.ErrorCode) +
		varintLen(s.FinalSize)
}

func (s *ResetStreamFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeResetStream) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.ErrorCode) &&
		enc.writeVarint(s.FinalSize)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *ResetStreamFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.ErrorCode) &&
		dec.readVarint(&s.FinalSize)
	if !ok {
		return 0, newFrameError(FrameTypeResetStream, "reset_stream")
	}
	return dec.offset(), nil
}

func (s *ResetStreamFrame) String() string {
	return fmt.Sprintf("resetStream{id=%d error=%d final=%d}", s.StreamID, s.ErrorCode, s.FinalSize)
}

type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func (s *StopSendingFrame) EncodedLen() int {
	return 1 + varintLen(s.StreamID) + varintLen(s.ErrorCode)
}

func (s *StopSendingFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeStopSending) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.ErrorCode)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *StopSendingFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.ErrorCode)
	if !ok {
		return 0, newFrameError(FrameTypeStopSending, "stop_sending")
	}
	return dec.offset(), nil
}

func (s *StopSendingFrame) String() string {
	return fmt.Sprintf("stopSending{id=%d error=%d}", s.StreamID, s.ErrorCode)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.6
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (s *CryptoFrame) EncodedLen() int {
	return 1 +
		varintLen(s.Offset) +
		varintLen(uint64(len(s.Data))) +
		len(s.Data)
}

func (s *CryptoFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeCrypto) &&
		enc.writeVarint(s.Offset) &&
		enc.writeVarint(uint64(len(s.Data))) &&
		enc.write(s.Data)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *CryptoFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ, length uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.Offset) || !dec.readVarint(&length) {
		return 0, newFrameError(FrameTypeCrypto, "crypto")
	}
	if s.Data = dec.read(int(length)); s.Data == nil {
		return 0, newFrameError(FrameTypeCrypto, "crypto")
	}
	return dec.offset(), nil
}

func (s *CryptoFrame) String() string {
	return fmt.Sprintf("crypto{offset=%d length=%d}", s.Offset, len(s.Data))
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.7
type NewTokenFrame struct {
	Token []byte
}

func (s *NewTokenFrame) EncodedLen() int {
	return 1 + varintLen(uint64(len(s.Token))) + len(s.Token)
}

func (s *NewTokenFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeNewToken) &&
		enc.writeVarint(uint64(len(s.Token))) &&
		enc.write(s.Token)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *NewTokenFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ, length uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&length) || length == 0 {
		return 0, newFrameError(FrameTypeNewToken, "new_token")
	}
	if s.Token = dec.read(int(length)); s.Token == nil {
		return 0, newFrameError(FrameTypeNewToken, "new_token")
	}
	return dec.offset(), nil
}

func (s *NewTokenFrame) String() string {
	return fmt.Sprintf("newToken{token=%x}", s.Token)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.8
// The three low bits of the type byte signal FIN, LEN and OFF.
type StreamFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
	Fin      bool
}

func (s *StreamFrame) EncodedLen() int {
	n := 1 + varintLen(s.StreamID) +
		varintLen(uint64(len(s.Data))) +
		len(s.Data)
	if s.Offset > 0 {
		n += varintLen(s.Offset)
	}
	return n
}

func (s *StreamFrame) Encode(b []byte) (int, error) {
	typ := uint64(FrameTypeStream)
	if s.Fin {
		typ |= 0x01
	}
	// Always include length
	typ |= 0x02
	if s.Offset > 0 {
		typ |= 0x04
	}
	enc := newCodec(b)
	if !enc.writeVarint(typ) || !enc.writeVarint(s.StreamID) {
		return 0, errShortBuffer
	}
	if s.Offset > 0 && !enc.writeVarint(s.Offset) {
		return 0, errShortBuffer
	}
	if !enc.writeVarint(uint64(len(s.Data))) || !enc.write(s.Data) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

// Decode hands the payload off without copying; Data aliases b.
func (s *StreamFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.StreamID) {
		return 0, newFrameError(FrameTypeStream, "stream")
	}
	s.Fin = typ&0x01 != 0
	hasLength := typ&0x02 != 0
	hasOffset := typ&0x04 != 0
	if hasOffset {
		if !dec.readVarint(&s.Offset) {
			return 0, newFrameError(typ, "stream")
		}
	} else {
		s.Offset = 0
	}
	if hasLength {
		var length uint64
		if !dec.readVarint(&length) {
			return 0, newFrameError(typ, "stream")
		}
		if s.Data = dec.read(int(length)); s.Data == nil {
			return 0, newFrameError(typ, "stream")
		}
		return dec.offset(), nil
	}
	// No length field: the rest of the packet is data.
	s.Data = b[dec.offset():]
	return len(b), nil
}

func (s *StreamFrame) String() string {
	return fmt.Sprintf("stream{id=%d offset=%d length=%d fin=%v}", s.StreamID, s.Offset, len(s.Data), s.Fin)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.9
type MaxDataFrame struct {
	MaximumData uint64
}

func (s *MaxDataFrame) EncodedLen() int {
	return 1 + varintLen(s.MaximumData)
}

func (s *MaxDataFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	if !enc.writeVarint(FrameTypeMaxData) || !enc.writeVarint(s.MaximumData) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *MaxDataFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.MaximumData) {
		return 0, newFrameError(FrameTypeMaxData, "max_data")
	}
	return dec.offset(), nil
}

func (s *MaxDataFrame) String() string {
	return fmt.Sprintf("maxData{maximum=%d}", s.MaximumData)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.10
type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (s *MaxStreamDataFrame) EncodedLen() int {
	return 1 + varintLen(s.StreamID) + varintLen(s.MaximumData)
}

func (s *MaxStreamDataFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeMaxStreamData) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.MaximumData)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *MaxStreamDataFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.MaximumData)
	if !ok {
		return 0, newFrameError(FrameTypeMaxStreamData, "max_stream_data")
	}
	return dec.offset(), nil
}

func (s *MaxStreamDataFrame) String() string {
	return fmt.Sprintf("maxStreamData{id=%d maximum=%d}", s.StreamID, s.MaximumData)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.11
type MaxStreamsFrame struct {
	MaximumStreams uint64
	Bidi           bool
}

func (s *MaxStreamsFrame) EncodedLen() int {
	return 1 + varintLen(s.MaximumStreams)
}

func (s *MaxStreamsFrame) Encode(b []byte) (int, error) {
	typ := uint64(FrameTypeMaxStreamsUni)
	if s.Bidi {
		typ = FrameTypeMaxStreamsBidi
	}
	enc := newCodec(b)
	if !enc.writeVarint(typ) || !enc.writeVarint(s.MaximumStreams) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *MaxStreamsFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.MaximumStreams) {
		return 0, newFrameError(FrameTypeMaxStreamsBidi, "max_streams")
	}
	s.Bidi = typ == FrameTypeMaxStreamsBidi
	return dec.offset(), nil
}

func (s *MaxStreamsFrame) String() string {
	return fmt.Sprintf("maxStreams{maximum=%d bidi=%v}", s.MaximumStreams, s.Bidi)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.12
type DataBlockedFrame struct {
	DataLimit uint64
}

func (s *DataBlockedFrame) EncodedLen() int {
	return 1 + varintLen(s.DataLimit)
}

func (s *DataBlockedFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	if !enc.writeVarint(FrameTypeDataBlocked) || !enc.writeVarint(s.DataLimit) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *DataBlockedFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.DataLimit) {
		return 0, newFrameError(FrameTypeDataBlocked, "data_blocked")
	}
	return dec.offset(), nil
}

func (s *DataBlockedFrame) String() string {
	return fmt.Sprintf("dataBlocked{limit=%d}", s.DataLimit)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.13
type StreamDataBlockedFrame struct {
	StreamID  uint64
	DataLimit uint64
}

func (s *StreamDataBlockedFrame) EncodedLen() int {
	return 1 + varintLen(s.StreamID) + varintLen(s.DataLimit)
}

func (s *StreamDataBlockedFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeStreamDataBlocked) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.DataLimit)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *StreamDataBlockedFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.DataLimit)
	if !ok {
		return 0, newFrameError(FrameTypeStreamDataBlocked, "stream_data_blocked")
	}
	return dec.offset(), nil
}

func (s *StreamDataBlockedFrame) String() string {
	return fmt.Sprintf("streamDataBlocked{id=%d limit=%d}", s.StreamID, s.DataLimit)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.14
type StreamsBlockedFrame struct {
	StreamLimit uint64
	Bidi        bool
}

func (s *StreamsBlockedFrame) EncodedLen() int {
	return 1 + varintLen(s.StreamLimit)
}

func (s *StreamsBlockedFrame) Encode(b []byte) (int, error) {
	typ := uint64(FrameTypeStreamsBlockedUni)
	if s.Bidi {
		typ = FrameTypeStreamsBlockedBidi
	}
	enc := newCodec(b)
	if !enc.writeVarint(typ) || !enc.writeVarint(s.StreamLimit) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *StreamsBlockedFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.StreamLimit) {
		return 0, newFrameError(FrameTypeStreamsBlockedBidi, "streams_blocked")
	}
	s.Bidi = typ == FrameTypeStreamsBlockedBidi
	return dec.offset(), nil
}

func (s *StreamsBlockedFrame) String() string {
	return fmt.Sprintf("streamsBlocked{limit=%d bidi=%v}", s.StreamLimit, s.Bidi)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.15
type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        ConnectionID
	StatelessResetToken []byte
}

func (s *NewConnectionIDFrame) EncodedLen() int {
	return 1 + varintLen(s.SequenceNumber) + varintLen(s.RetirePriorTo) +
		1 + len(s.ConnectionID) + len(s.StatelessResetToken)
}

func (s *NewConnectionIDFrame) Encode(b []byte) (int, error) {
	if len(s.ConnectionID) < 1 || len(s.ConnectionID) > MaxCIDLength ||
		len(s.StatelessResetToken) != statelessResetTokenLen {
		return 0, newFrameError(FrameTypeNewConnectionID, "new_connection_id")
	}
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeNewConnectionID) &&
		enc.writeVarint(s.SequenceNumber) &&
		enc.writeVarint(s.RetirePriorTo) &&
		enc.writeByte(uint8(len(s.ConnectionID))) &&
		enc.write(s.ConnectionID) &&
		enc.write(s.StatelessResetToken)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *NewConnectionIDFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	var cil uint8
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.SequenceNumber) &&
		dec.readVarint(&s.RetirePriorTo) &&
		dec.readByte(&cil)
	if !ok || cil < 1 || cil > MaxCIDLength {
		return 0, newFrameError(FrameTypeNewConnectionID, "new_connection_id")
	}
	if s.ConnectionID = dec.read(int(cil)); s.ConnectionID == nil {
		return 0, newFrameError(FrameTypeNewConnectionID, "new_connection_id")
	}
	if s.StatelessResetToken = dec.read(statelessResetTokenLen); s.StatelessResetToken == nil {
		return 0, newFrameError(FrameTypeNewConnectionID, "new_connection_id")
	}
	return dec.offset(), nil
}

func (s *NewConnectionIDFrame) String() string {
	return fmt.Sprintf("newConnectionID{sequence=%d retire=%d cid=%s}",
		s.SequenceNumber, s.RetirePriorTo, s.ConnectionID)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.16
type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func (s *RetireConnectionIDFrame) EncodedLen() int {
	return 1 + varintLen(s.SequenceNumber)
}

func (s *RetireConnectionIDFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	if !enc.writeVarint(FrameTypeRetireConnectionID) || !enc.writeVarint(s.SequenceNumber) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *RetireConnectionIDFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.SequenceNumber) {
		return 0, newFrameError(FrameTypeRetireConnectionID, "retire_connection_id")
	}
	return dec.offset(), nil
}

func (s *RetireConnectionIDFrame) String() string {
	return fmt.Sprintf("retireConnectionID{sequence=%d}", s.SequenceNumber)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.17
type PathChallengeFrame struct {
	Data []byte
}

func (s *PathChallengeFrame) EncodedLen() int {
	return 1 + len(s.Data)
}

func (s *PathChallengeFrame) Encode(b []byte) (int, error) {
	if len(s.Data) != 8 {
		return 0, newFrameError(FrameTypePathChallenge, "path_challenge")
	}
	enc := newCodec(b)
	if !enc.writeVarint(FrameTypePathChallenge) || !enc.write(s.Data) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *PathChallengeFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) {
		return 0, newFrameError(FrameTypePathChallenge, "path_challenge")
	}
	if s.Data = dec.read(8); s.Data == nil {
		return 0, newFrameError(FrameTypePathChallenge, "path_challenge")
	}
	return dec.offset(), nil
}

func (s *PathChallengeFrame) String() string {
	return fmt.Sprintf("pathChallenge{data=%x}", s.Data)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.18
type PathResponseFrame struct {
	Data []byte
}

func (s *PathResponseFrame) EncodedLen() int {
	return 1 + len(s.Data)
}

func (s *PathResponseFrame) Encode(b []byte) (int, error) {
	if len(s.Data) != 8 {
		return 0, newFrameError(FrameTypePathResponse, "path_response")
	}
	enc := newCodec(b)
	if !enc.writeVarint(FrameTypePathResponse) || !enc.write(s.Data) {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *PathResponseFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) {
		return 0, newFrameError(FrameTypePathResponse, "path_response")
	}
	if s.Data = dec.read(8); s.Data == nil {
		return 0, newFrameError(FrameTypePathResponse, "path_response")
	}
	return dec.offset(), nil
}

func (s *PathResponseFrame) String() string {
	return fmt.Sprintf("pathResponse{data=%x}", s.Data)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.19
// The transport flavor carries the type of the frame that triggered
// the close; the application flavor does not.
type ConnectionCloseFrame struct {
	ErrorCode    uint64
	FrameType    uint64
	ReasonPhrase []byte
	Application  bool
}

func (s *ConnectionCloseFrame) EncodedLen() int {
	n := 1 +
		varintLen(s.ErrorCode) +
		varintLen(uint64(len(s.ReasonPhrase))) +
		len(s.ReasonPhrase)
	if !s.Application {
		n += varintLen(s.FrameType)
	}
	return n
}

func (s *ConnectionCloseFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	var ok bool
	if s.Application {
		ok = enc.writeVarint(FrameTypeApplicationClose) &&
			enc.writeVarint(s.ErrorCode) &&
			enc.writeVarint(uint64(len(s.ReasonPhrase))) &&
			enc.write(s.ReasonPhrase)
	} else {
		ok = enc.writeVarint(FrameTypeConnectionClose) &&
			enc.writeVarint(s.ErrorCode) &&
			enc.writeVarint(s.FrameType) &&
			enc.writeVarint(uint64(len(s.ReasonPhrase))) &&
			enc.write(s.ReasonPhrase)
	}
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *ConnectionCloseFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	if !dec.readVarint(&typ) || !dec.readVarint(&s.ErrorCode) {
		return 0, newFrameError(FrameTypeConnectionClose, "connection_close")
	}
	if typ == FrameTypeConnectionClose {
		// The triggering frame type must encode in a single byte.
		before := dec.offset()
		if !dec.readVarint(&s.FrameType) || dec.offset()-before != 1 {
			return 0, newFrameError(typ, "connection_close frame type")
		}
	} else {
		s.Application = true
	}
	var length uint64
	if !dec.readVarint(&length) || length > maxReasonPhraseLength {
		return 0, newFrameError(typ, "connection_close reason length")
	}
	if s.ReasonPhrase = dec.read(int(length)); s.ReasonPhrase == nil {
		return 0, newFrameError(typ, "connection_close reason")
	}
	return dec.offset(), nil
}

func (s *ConnectionCloseFrame) String() string {
	return fmt.Sprintf("close{error=%d frame=%d reason=%s}", s.ErrorCode, s.FrameType, s.ReasonPhrase)
}

// https://www.rfc-editor.org/rfc/rfc9000.html#section-19.20
type HandshakeDoneFrame struct{}

func (s *HandshakeDoneFrame) EncodedLen() int {
	return 1
}

func (s *HandshakeDoneFrame) Encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = FrameTypeHandshakeDone
	return 1, nil
}

func (s *HandshakeDoneFrame) Decode(b []byte) (int, error) {
	return 1, nil
}

func (s *HandshakeDoneFrame) String() string {
	return "handshakeDone{}"
}

// MIN_STREAM_DATA advertises the smallest retransmittable offset of a
// partially reliable stream.
type MinStreamDataFrame struct {
	StreamID            uint64
	MaximumData         uint64
	MinimumStreamOffset uint64
}

func (s *MinStreamDataFrame) EncodedLen() int {
	return varintLen(FrameTypeMinStreamData) + varintLen(s.StreamID) +
		varintLen(s.MaximumData) + varintLen(s.MinimumStreamOffset)
}

func (s *MinStreamDataFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeMinStreamData) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.MaximumData) &&
		enc.writeVarint(s.MinimumStreamOffset)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *MinStreamDataFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.MaximumData) &&
		dec.readVarint(&s.MinimumStreamOffset)
	if !ok {
		return 0, newFrameError(FrameTypeMinStreamData, "min_stream_data")
	}
	return dec.offset(), nil
}

func (s *MinStreamDataFrame) String() string {
	return fmt.Sprintf("minStreamData{id=%d maximum=%d minimum=%d}",
		s.StreamID, s.MaximumData, s.MinimumStreamOffset)
}

// EXPIRED_STREAM_DATA tells the receiver that data below the offset
// will not be retransmitted.
type ExpiredStreamDataFrame struct {
	StreamID            uint64
	MinimumStreamOffset uint64
}

func (s *ExpiredStreamDataFrame) EncodedLen() int {
	return varintLen(FrameTypeExpiredStreamData) + varintLen(s.StreamID) +
		varintLen(s.MinimumStreamOffset)
}

func (s *ExpiredStreamDataFrame) Encode(b []byte) (int, error) {
	enc := newCodec(b)
	ok := enc.writeVarint(FrameTypeExpiredStreamData) &&
		enc.writeVarint(s.StreamID) &&
		enc.writeVarint(s.MinimumStreamOffset)
	if !ok {
		return 0, errShortBuffer
	}
	return enc.offset(), nil
}

func (s *ExpiredStreamDataFrame) Decode(b []byte) (int, error) {
	dec := newCodec(b)
	var typ uint64
	ok := dec.readVarint(&typ) &&
		dec.readVarint(&s.StreamID) &&
		dec.readVarint(&s.MinimumStreamOffset)
	if !ok {
		return 0, newFrameError(FrameTypeExpiredStreamData, "expired_stream_data")
	}
	return dec.offset(), nil
}

func (s *ExpiredStreamDataFrame) String() string {
	return fmt.Sprintf("expiredStreamData{id=%d minimum=%d}", s.StreamID, s.MinimumStreamOffset)
}

// ParsePayload decodes every frame of a decrypted packet payload.
func ParsePayload(b []byte, hdr *Header, params CodecParams) ([]Frame, error) {
	var frames []Frame
	for i := 0; i < len(b); {
		f, n, err := ParseFrame(b[i:], hdr, params)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		i += n
	}
	return frames, nil
}

// IsAckEliciting reports whether a frame of the given type requires an
// acknowledgement from the receiver.
func IsAckEliciting(typ uint64) bool {
	switch typ {
	case FrameTypeAck, FrameTypeAckECN, FrameTypePadding,
		FrameTypeConnectionClose, FrameTypeApplicationClose:
		return false
	default:
		return true
	}
}
