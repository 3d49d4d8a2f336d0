package wire

import (
	"bytes"
	"testing"
)

func buildShortHeader() *Header {
	return &Header{
		Form:         HeaderFormShort,
		DCID:         ConnectionID(mustDecodeHex("0102030405060708")),
		PacketNumber: 5,
	}
}

func buildInitialHeader() *Header {
	return &Header{
		Form:         HeaderFormLong,
		Type:         LongHeaderInitial,
		Version:      VersionMVFST,
		DCID:         ConnectionID(mustDecodeHex("0102030405060708")),
		SCID:         ConnectionID(mustDecodeHex("0a0b0c0d")),
		Token:        mustDecodeHex("aabb"),
		PacketNumber: 2,
	}
}

func TestBuilderShortPacket(t *testing.T) {
	b := NewBuilder(1232, buildShortHeader(), 0)
	b.AppendFrame(&PingFrame{})
	pkt, err := b.BuildPacket()
	if err != nil {
		t.Fatal(err)
	}
	// Body is padded up to the header protection sample bound.
	minBody := maxPacketNumEncodingSize - 1 + sampleLen
	if len(pkt.Body) != minBody {
		t.Fatalf("expect body of %d, actual %d", minBody, len(pkt.Body))
	}
	if len(pkt.Frames) != 1 {
		t.Fatalf("expect 1 recorded frame, actual %d", len(pkt.Frames))
	}

	raw := append(append([]byte(nil), pkt.Header...), pkt.Body...)
	h, _, err := ParseHeader(raw, DefaultConnIDLen)
	if err != nil {
		t.Fatal(err)
	}
	if h.Form != HeaderFormShort || !h.DCID.Equal(buildShortHeader().DCID) {
		t.Fatalf("unexpected header: %+v", h)
	}
	if err = ParsePacketNumber(h, raw, 1); err != nil {
		t.Fatal(err)
	}
	if h.PacketNumber != 5 {
		t.Fatalf("unexpected packet number: %d", h.PacketNumber)
	}
	frames, err := ParsePayload(raw[h.PNOffset+1:], h, CodecParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expect ping+padding, actual %v", frames)
	}
	if _, ok := frames[0].(*PingFrame); !ok {
		t.Fatalf("expect ping, actual %v", frames[0])
	}
}

func TestBuilderInitialPacket(t *testing.T) {
	b := NewBuilder(1232, buildInitialHeader(), 0)
	b.AppendFrame(&CryptoFrame{Data: bytes.Repeat([]byte{0xcc}, 40)})
	pkt, err := b.BuildPacket()
	if err != nil {
		t.Fatal(err)
	}
	raw := append(append([]byte(nil), pkt.Header...), pkt.Body...)
	h, _, err := ParseHeader(raw, DefaultConnIDLen)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != LongHeaderInitial || !bytes.Equal(h.Token, mustDecodeHex("aabb")) {
		t.Fatalf("unexpected header: %+v", h)
	}
	// The back-patched length covers packet number plus body.
	if int(h.Length) != 1+len(pkt.Body) {
		t.Fatalf("expect length %d, actual %d", 1+len(pkt.Body), h.Length)
	}
	if err = ParsePacketNumber(h, raw, 1); err != nil {
		t.Fatal(err)
	}
	if h.PacketNumber != 2 {
		t.Fatalf("unexpected packet number: %d", h.PacketNumber)
	}
	frames, err := ParsePayload(raw[h.PNOffset+1:], h, CodecParams{})
	if err != nil {
		t.Fatal(err)
	}
	crypto, ok := frames[0].(*CryptoFrame)
	if !ok || len(crypto.Data) != 40 {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestBuilderCipherOverheadReducesPadding(t *testing.T) {
	b := NewBuilder(1232, buildShortHeader(), 0)
	b.SetCipherOverhead(16)
	b.AppendFrame(&PingFrame{})
	pkt, err := b.BuildPacket()
	if err != nil {
		t.Fatal(err)
	}
	minBody := maxPacketNumEncodingSize - 1 + sampleLen
	if len(pkt.Body)+16 != minBody {
		t.Fatalf("expect body of %d, actual %d", minBody-16, len(pkt.Body))
	}
}

func TestBuilderInplaceParity(t *testing.T) {
	build := func(b Builder) *Packet {
		b.AppendFrame(&CryptoFrame{Offset: 4, Data: []byte{1, 2, 3}})
		b.WriteVarint(uint64(FrameTypePing))
		pkt, err := b.BuildPacket()
		if err != nil {
			t.Fatal(err)
		}
		return pkt
	}
	for _, hdr := range []*Header{buildShortHeader(), buildInitialHeader()} {
		growing := build(NewBuilder(1232, hdr, 0))
		buf := make([]byte, 1232)
		inplace := build(NewInplaceBuilder(buf, hdr, 0))
		if !bytes.Equal(growing.Header, inplace.Header) {
			t.Fatalf("headers differ:\n%x\n%x", growing.Header, inplace.Header)
		}
		if !bytes.Equal(growing.Body, inplace.Body) {
			t.Fatalf("bodies differ:\n%x\n%x", growing.Body, inplace.Body)
		}
	}
}

func TestBuilderRemainingSpace(t *testing.T) {
	b := NewBuilder(100, buildShortHeader(), 0)
	before := b.RemainingSpace()
	b.Write([]byte{1, 2, 3, 4})
	if b.RemainingSpace() != before-4 {
		t.Fatalf("expect remaining %d, actual %d", before-4, b.RemainingSpace())
	}
	if b.HeaderBytes() != 1+8+1 {
		t.Fatalf("unexpected header bytes: %d", b.HeaderBytes())
	}
}

func TestBuilderOverflow(t *testing.T) {
	b := NewBuilder(12, buildShortHeader(), 0)
	b.Write(bytes.Repeat([]byte{1}, 16))
	if _, err := b.BuildPacket(); err == nil {
		t.Fatal("overflowing builder should fail")
	}

	ib := NewInplaceBuilder(make([]byte, 12), buildShortHeader(), 0)
	ib.Write(bytes.Repeat([]byte{1}, 16))
	if _, err := ib.BuildPacket(); err == nil {
		t.Fatal("overflowing in-place builder should fail")
	}
}

func TestBuilderRetry(t *testing.T) {
	hdr := &Header{
		Form:         HeaderFormLong,
		Type:         LongHeaderRetry,
		Version:      VersionMVFST,
		DCID:         ConnectionID(mustDecodeHex("0a0b0c0d")),
		SCID:         ConnectionID(mustDecodeHex("1112131415161718")),
		Token:        mustDecodeHex("a0a1a2"),
		IntegrityTag: mustDecodeHex("101112131415161718191a1b1c1d1e1f"),
	}
	b := NewBuilder(1232, hdr, 0)
	pkt, err := b.BuildPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt.Body) != 0 {
		t.Fatalf("retry must have no body, actual %d", len(pkt.Body))
	}
	h, _, err := ParseHeader(pkt.Header, DefaultConnIDLen)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != LongHeaderRetry || !bytes.Equal(h.Token, hdr.Token) ||
		!bytes.Equal(h.IntegrityTag, hdr.IntegrityTag) {
		t.Fatalf("unexpected retry header: %+v", h)
	}
}
