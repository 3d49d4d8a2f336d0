package wire

import (
	"bytes"
	"testing"
)

func TestCodecDecode(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 0xc6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	c := newCodec(b)
	var (
		v8  byte
		v32 uint32
		v64 uint64
	)
	if !c.readByte(&v8) || v8 != 1 {
		t.Fatalf("read byte: 0x%x", v8)
	}
	if c.offset() != 1 || c.len() != len(b)-1 {
		t.Fatalf("offset=%d len=%d", c.offset(), c.len())
	}
	if !c.readUint32(&v32) || v32 != 0x02030405 {
		t.Fatalf("read uint32: 0x%x", v32)
	}
	if !c.readVarint(&v64) || v64 != 0x060708090a0b0c0d {
		t.Fatalf("read varint: 0x%x", v64)
	}
	v := c.read(3)
	if !bytes.Equal(v, b[13:16]) {
		t.Fatalf("read: %x, actual: %x", v, b[13:16])
	}
	if c.len() != 0 {
		t.Fatalf("expect empty codec, len=%d", c.len())
	}
	if c.read(2) != nil || c.readByte(&v8) || c.readUint32(&v32) || c.readVarint(&v64) {
		t.Fatal("read past end should fail")
	}
}

func TestCodecEncode(t *testing.T) {
	b := make([]byte, 16)
	c := newCodec(b)
	if !c.writeByte(1) || !c.writeUint32(0x02030405) ||
		!c.writeVarint(0x060708090a0b0c0d) || !c.write([]byte{0xe, 0xf, 0x10}) {
		t.Fatalf("write: %x", b)
	}
	expected := []byte{1, 2, 3, 4, 5, 0xc6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if !bytes.Equal(expected, b) {
		t.Fatalf("expect encode: %x, actual: %x", expected, b)
	}
	if c.write([]byte{1}) || c.writeByte(1) || c.writeUint32(1) || c.writeVarint(1) {
		t.Fatal("write past end should fail")
	}
}

func TestVarintDecode(t *testing.T) {
	b := []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}
	var v uint64
	n := getVarint(b, &v)
	if n != 8 || v != 151288809941952652 {
		t.Fatalf("expect decode: 8 151288809941952652, actual: %v %v", n, v)
	}
	if n = getVarint(b[:7], &v); n != 0 {
		t.Fatalf("truncated decode should fail, got %v", n)
	}
	b = []byte{0x9d, 0x7f, 0x3e, 0x7d}
	if n = getVarint(b, &v); n != 4 || v != 494878333 {
		t.Fatalf("expect decode: 4 494878333, actual: %v %v", n, v)
	}
	b = []byte{0x40, 0x25}
	if n = getVarint(b, &v); n != 2 || v != 37 {
		t.Fatalf("expect decode: 2 37, actual: %v %v", n, v)
	}
	b = []byte{0x25}
	if n = getVarint(b, &v); n != 1 || v != 37 {
		t.Fatalf("expect decode: 1 37, actual: %v %v", n, v)
	}
}

func TestVarintCodec(t *testing.T) {
	data := []struct {
		v uint64
		n int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1073741823, 4},
		{1073741824, 8},
		{4611686018427387903, 8},
	}
	b := make([]byte, 8)
	for _, d := range data {
		if varintLen(d.v) != d.n {
			t.Fatalf("varint %d: expect canonical length %d, actual %d", d.v, d.n, varintLen(d.v))
		}
		c := newCodec(b)
		if !c.writeVarint(d.v) || c.offset() != d.n {
			t.Fatalf("write varint %d: offset=%d", d.v, c.offset())
		}
		c = newCodec(b)
		var v uint64
		if !c.readVarint(&v) || v != d.v {
			t.Fatalf("expect: %d, actual: %d", d.v, v)
		}
	}
}

func TestVarintEncodeTooLarge(t *testing.T) {
	c := newCodec(make([]byte, 16))
	if c.writeVarint(maxVarint + 1) {
		t.Fatal("values above 2^62-1 must not encode")
	}
	if !c.writeVarint(maxVarint) {
		t.Fatal("2^62-1 must encode")
	}
}

func TestEncodePacketNumber(t *testing.T) {
	data := []struct {
		pn        uint64
		largest   uint64
		truncated uint64
		len       int
	}{
		{0, 0, 0, 1},
		{1, 0, 1, 1},
		{0x7f, 0, 0x7f, 1},
		{0x80, 0, 0x80, 2},
		{0xac5c02, 0xabe8b9, 0x5c02, 2},
		{0xace8fe, 0xabe8b9, 0xace8fe, 3},
		{0xa82f9b32, 0xa82f30ea, 0x9b32, 2},
	}
	for _, d := range data {
		truncated, n := EncodePacketNumber(d.pn, d.largest)
		if truncated != d.truncated || n != d.len {
			t.Fatalf("encode pn=0x%x largest=0x%x: expect (0x%x, %d), actual (0x%x, %d)",
				d.pn, d.largest, d.truncated, d.len, truncated, n)
		}
		pn := DecodePacketNumber(truncated, n, d.largest+1)
		if pn != d.pn {
			t.Fatalf("decode round trip: expect 0x%x, actual 0x%x", d.pn, pn)
		}
	}
}

func TestDecodePacketNumber(t *testing.T) {
	data := []struct {
		pn        uint64
		expected  uint64
		truncated uint64
		len       int
	}{
		{0xa82f9b32, 0xa82f30eb, 0x9b32, 2},
		{0, 1, 0, 1},
		{1, 1, 1, 1},
		{2, 1, 2, 4},
	}
	for _, d := range data {
		pn := DecodePacketNumber(d.truncated, d.len, d.expected)
		if pn != d.pn {
			t.Fatalf("expect packet number 0x%x actual 0x%x", d.pn, pn)
		}
	}
}
