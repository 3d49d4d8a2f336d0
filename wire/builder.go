package wire

import (
	"encoding/binary"
)

// Packet is a built but not yet protected packet. Header and Body are
// separate so the caller can encrypt the body with the header as
// associated data.
type Packet struct {
	Header []byte
	Body   []byte
	Frames []Frame
}

// Builder assembles an outgoing packet. For non-Retry long headers the
// remainder-length field and the packet number are written into
// reserved slots when BuildPacket runs, since the length depends on
// the body. A short header's packet number is written when the builder
// is created.
type Builder interface {
	WriteByte(v byte)
	WriteUint16(v uint16)
	WriteUint32(v uint32)
	WriteVarint(v uint64)
	Write(b []byte)
	// AppendFrame encodes the frame into the body and records it for
	// post-encryption accounting.
	AppendFrame(f Frame)
	RemainingSpace() int
	HeaderBytes() int
	SetCipherOverhead(n int)
	BuildPacket() (*Packet, error)
}

// headerPrefix encodes the header of h up to the body, reserving the
// length and packet number slots of a non-Retry long header. lenOff
// and pnOff are -1 when the header has no such slot.
func headerPrefix(dst []byte, h *Header, pnLen int) (out []byte, lenOff, pnOff int) {
	lenOff, pnOff = -1, -1
	if h.Form == HeaderFormLong {
		flags := byte(headerFormMask | fixedBitMask)
		flags |= byte(h.Type) << longTypeShift
		if h.Type != LongHeaderRetry {
			flags |= packetNumberLenBits(pnLen)
		}
		dst = append(dst, flags)
		dst = binary.BigEndian.AppendUint32(dst, h.Version)
		dst = append(dst, byte(len(h.DCID)))
		dst = append(dst, h.DCID...)
		dst = append(dst, byte(len(h.SCID)))
		dst = append(dst, h.SCID...)
		switch h.Type {
		case LongHeaderInitial:
			n := varintLen(uint64(len(h.Token)))
			dst = appendVarint(dst, uint64(len(h.Token)), n)
			dst = append(dst, h.Token...)
		case LongHeaderRetry:
			dst = append(dst, h.Token...)
			dst = append(dst, h.IntegrityTag...)
			return dst, lenOff, pnOff
		}
		// The length slot always takes maxPacketLenSize bytes so its
		// position does not depend on the final value.
		lenOff = len(dst)
		dst = append(dst, make([]byte, maxPacketLenSize)...)
		pnOff = len(dst)
		dst = append(dst, make([]byte, pnLen)...)
		return dst, lenOff, pnOff
	}
	flags := byte(fixedBitMask) | packetNumberLenBits(pnLen)
	if h.KeyPhase == KeyPhaseOne {
		flags |= keyPhaseMask
	}
	dst = append(dst, flags)
	dst = append(dst, h.DCID...)
	pnOff = len(dst)
	dst = append(dst, make([]byte, pnLen)...)
	return dst, lenOff, pnOff
}

func appendVarint(b []byte, v uint64, n int) []byte {
	switch n {
	case 1:
		b = append(b, uint8(v))
	case 2:
		b = append(b, uint8(v>>8)|0x40, uint8(v))
	case 4:
		b = append(b, uint8(v>>24)|0x80, uint8(v>>16), uint8(v>>8), uint8(v))
	case 8:
		b = append(b, uint8(v>>56)|0xc0, uint8(v>>48), uint8(v>>40), uint8(v>>32),
			uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v))
	}
	return b
}

// GrowingBuilder writes the header and body into growable buffers.
type GrowingBuilder struct {
	header []byte
	body   []byte
	frames []Frame

	remaining      int
	cipherOverhead int
	pnTrunc        uint64
	pnLen          int
	lenOff         int
	pnOff          int
	longHeader     bool
	retry          bool
	err            error
}

// NewBuilder creates a growing-buffer Builder for a packet of at most
// remainingBytes bytes.
func NewBuilder(remainingBytes int, h *Header, largestAcked uint64) *GrowingBuilder {
	pnTrunc, pnLen := EncodePacketNumber(h.PacketNumber, largestAcked)
	b := &GrowingBuilder{
		remaining:  remainingBytes,
		pnTrunc:    pnTrunc,
		pnLen:      pnLen,
		longHeader: h.Form == HeaderFormLong,
		retry:      h.Form == HeaderFormLong && h.Type == LongHeaderRetry,
	}
	b.header, b.lenOff, b.pnOff = headerPrefix(nil, h, pnLen)
	if len(b.header) > b.remaining {
		b.remaining = 0
		b.err = errShortBuffer
	} else {
		b.remaining -= len(b.header)
	}
	if h.Form == HeaderFormShort {
		putPacketNumber(b.header[b.pnOff:], pnTrunc, pnLen)
	}
	return b
}

func (b *GrowingBuilder) grow(n int) bool {
	if b.err != nil {
		return false
	}
	if n > b.remaining {
		b.err = errShortBuffer
		return false
	}
	b.remaining -= n
	return true
}

func (b *GrowingBuilder) WriteByte(v byte) {
	if b.grow(1) {
		b.body = append(b.body, v)
	}
}

func (b *GrowingBuilder) WriteUint16(v uint16) {
	if b.grow(2) {
		b.body = binary.BigEndian.AppendUint16(b.body, v)
	}
}

func (b *GrowingBuilder) WriteUint32(v uint32) {
	if b.grow(4) {
		b.body = binary.BigEndian.AppendUint32(b.body, v)
	}
}

func (b *GrowingBuilder) WriteVarint(v uint64) {
	n := varintLen(v)
	if b.grow(n) {
		b.body = appendVarint(b.body, v, n)
	}
}

func (b *GrowingBuilder) Write(p []byte) {
	if b.grow(len(p)) {
		b.body = append(b.body, p...)
	}
}

func (b *GrowingBuilder) AppendFrame(f Frame) {
	n := f.EncodedLen()
	if !b.grow(n) {
		return
	}
	buf := make([]byte, n)
	if _, err := f.Encode(buf); err != nil {
		b.err = err
		return
	}
	b.body = append(b.body, buf...)
	b.frames = append(b.frames, f)
}

func (b *GrowingBuilder) RemainingSpace() int {
	return b.remaining
}

func (b *GrowingBuilder) HeaderBytes() int {
	return len(b.header)
}

func (b *GrowingBuilder) SetCipherOverhead(n int) {
	b.cipherOverhead = n
}

func (b *GrowingBuilder) BuildPacket() (*Packet, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.retry {
		// Guarantee enough ciphertext after the packet number for
		// header-protection sampling.
		minBody := maxPacketNumEncodingSize - b.pnLen + sampleLen
		for len(b.body)+b.cipherOverhead < minBody && b.remaining > 0 {
			b.body = append(b.body, 0)
			b.remaining--
		}
	}
	if b.longHeader && !b.retry {
		putVarint(b.header[b.lenOff:], uint64(b.pnLen+len(b.body)+b.cipherOverhead), maxPacketLenSize)
		putPacketNumber(b.header[b.pnOff:], b.pnTrunc, b.pnLen)
	}
	return &Packet{
		Header: b.header,
		Body:   b.body,
		Frames: b.frames,
	}, nil
}

// InplaceBuilder writes into a caller-provided buffer and back-patches
// the reserved slots through recorded offsets.
type InplaceBuilder struct {
	buf []byte
	w   int

	frames         []Frame
	cipherOverhead int
	pnTrunc        uint64
	pnLen          int
	lenOff         int
	pnOff          int
	bodyStart      int
	longHeader     bool
	retry          bool
	err            error
}

// NewInplaceBuilder creates a Builder over buf. The built packet
// aliases buf.
func NewInplaceBuilder(buf []byte, h *Header, largestAcked uint64) *InplaceBuilder {
	pnTrunc, pnLen := EncodePacketNumber(h.PacketNumber, largestAcked)
	b := &InplaceBuilder{
		buf:        buf,
		pnTrunc:    pnTrunc,
		pnLen:      pnLen,
		longHeader: h.Form == HeaderFormLong,
		retry:      h.Form == HeaderFormLong && h.Type == LongHeaderRetry,
	}
	hdr, lenOff, pnOff := headerPrefix(buf[:0], h, pnLen)
	if len(hdr) > len(buf) {
		// headerPrefix reallocated: the caller's buffer cannot hold
		// even the header.
		b.err = errShortBuffer
		return b
	}
	b.w = len(hdr)
	b.lenOff = lenOff
	b.pnOff = pnOff
	b.bodyStart = b.w
	if h.Form == HeaderFormShort {
		putPacketNumber(b.buf[b.pnOff:], pnTrunc, pnLen)
	}
	return b
}

func (b *InplaceBuilder) grow(n int) bool {
	if b.err != nil {
		return false
	}
	if b.w+n > len(b.buf) {
		b.err = errShortBuffer
		return false
	}
	return true
}

func (b *InplaceBuilder) WriteByte(v byte) {
	if b.grow(1) {
		b.buf[b.w] = v
		b.w++
	}
}

func (b *InplaceBuilder) WriteUint16(v uint16) {
	if b.grow(2) {
		binary.BigEndian.PutUint16(b.buf[b.w:], v)
		b.w += 2
	}
}

func (b *InplaceBuilder) WriteUint32(v uint32) {
	if b.grow(4) {
		binary.BigEndian.PutUint32(b.buf[b.w:], v)
		b.w += 4
	}
}

func (b *InplaceBuilder) WriteVarint(v uint64) {
	n := varintLen(v)
	if b.grow(n) {
		putVarint(b.buf[b.w:], v, n)
		b.w += n
	}
}

func (b *InplaceBuilder) Write(p []byte) {
	if b.grow(len(p)) {
		copy(b.buf[b.w:], p)
		b.w += len(p)
	}
}

func (b *InplaceBuilder) AppendFrame(f Frame) {
	n := f.EncodedLen()
	if !b.grow(n) {
		return
	}
	if _, err := f.Encode(b.buf[b.w : b.w+n]); err != nil {
		b.err = err
		return
	}
	b.w += n
	b.frames = append(b.frames, f)
}

func (b *InplaceBuilder) RemainingSpace() int {
	if b.err != nil {
		return 0
	}
	return len(b.buf) - b.w
}

func (b *InplaceBuilder) HeaderBytes() int {
	return b.bodyStart
}

func (b *InplaceBuilder) SetCipherOverhead(n int) {
	b.cipherOverhead = n
}

func (b *InplaceBuilder) BuildPacket() (*Packet, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.retry {
		minBody := maxPacketNumEncodingSize - b.pnLen + sampleLen
		for b.w-b.bodyStart+b.cipherOverhead < minBody && b.w < len(b.buf) {
			b.buf[b.w] = 0
			b.w++
		}
	}
	if b.longHeader && !b.retry {
		bodyLen := b.w - b.bodyStart
		putVarint(b.buf[b.lenOff:], uint64(b.pnLen+bodyLen+b.cipherOverhead), maxPacketLenSize)
		putPacketNumber(b.buf[b.pnOff:], b.pnTrunc, b.pnLen)
	}
	return &Packet{
		Header: b.buf[:b.bodyStart],
		Body:   b.buf[b.bodyStart:b.w],
		Frames: b.frames,
	}, nil
}
