package wire

import (
	"bytes"
	"reflect"
	"testing"
)

// testFrame encodes f, compares the wire form to hexStr, then parses
// it back and compares the result to f.
func testFrame(t *testing.T, f Frame, hexStr string) {
	t.Helper()
	expected := mustDecodeHex(hexStr)
	if n := f.EncodedLen(); n != len(expected) {
		t.Fatalf("%v: expect encoded length %d, actual %d", f, len(expected), n)
	}
	b := make([]byte, len(expected))
	n, err := f.Encode(b)
	if err != nil {
		t.Fatalf("%v: encode: %v", f, err)
	}
	if n != len(expected) || !bytes.Equal(b, expected) {
		t.Fatalf("%v: expect encode %x, actual %x", f, expected, b[:n])
	}
	g, n, err := ParseFrame(b, nil, CodecParams{})
	if err != nil {
		t.Fatalf("%v: parse: %v", f, err)
	}
	if n != len(expected) {
		t.Fatalf("%v: expect parse %d bytes, actual %d", f, len(expected), n)
	}
	if !reflect.DeepEqual(f, g) {
		t.Fatalf("frame round trip:\nactual=%+v\n  want=%+v", g, f)
	}
}

func TestFramePadding(t *testing.T) {
	testFrame(t, &PaddingFrame{Length: 1}, "00")
	testFrame(t, &PaddingFrame{Length: 5}, "0000000000")

	f := &PaddingFrame{}
	n, err := f.Decode([]byte{0, 0, 0, 1})
	if n != 3 || err != nil || f.Length != 3 {
		t.Fatalf("expect coalesced decode 3, actual %d %v %+v", n, err, f)
	}
}

func TestFramePing(t *testing.T) {
	testFrame(t, &PingFrame{}, "01")
}

func TestFrameCrypto(t *testing.T) {
	f := &CryptoFrame{
		Offset: 1,
		Data:   []byte{1, 2, 3},
	}
	testFrame(t, f, "060103010203")
}

func TestDecodeCryptoFrame(t *testing.T) {
	data := `
060040c4010000c003036660261ff947 cea49cce6cfad687f457cf1b14531ba1
4131a0e8f309a1d0b9c4000006130113 031302010000910000000b0009000006
736572766572ff01000100000a001400 12001d00170018001901000101010201
03010400230000003300260024001d00 204cfdfcd178b784bf328cae793b136f
2aedce005ff183d7bb14952072366470 37002b0003020304000d0020001e0403
05030603020308040805080604010501 060102010402050206020202002d0002
0101001c00024001`
	b := mustDecodeHex(data)
	f, n, err := ParseFrame(b, nil, CodecParams{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 200 {
		t.Fatalf("unexpected read: n=%d", n)
	}
	crypto, ok := f.(*CryptoFrame)
	if !ok || crypto.Offset != 0 || len(crypto.Data) != 0xc4 {
		t.Fatalf("unexpected frame: %v", f)
	}
}

func TestFrameAck(t *testing.T) {
	f := &AckFrame{
		LargestAck:       0x1234,
		AckDelay:         0x3456 << 3,
		AckDelayExponent: 3,
		AckBlocks: []AckBlock{
			{Start: 0x11bc, End: 0x1234},
			{Start: 0x11b7, End: 0x11b9},
			{Start: 0x11ae, End: 0x11b2},
		},
	}
	testFrame(t, f, "025234745602407801020304")
}

func TestFrameAckECN(t *testing.T) {
	f := &AckFrame{
		LargestAck:       0x10,
		AckDelay:         8,
		AckDelayExponent: 3,
		AckBlocks:        []AckBlock{{Start: 0x0e, End: 0x10}},
		ECN: &ECNCounts{
			ECT0: 1,
			ECT1: 2,
			CE:   3,
		},
	}
	testFrame(t, f, "0310010002010203")
}

func TestFrameAckGapUnderflow(t *testing.T) {
	// largest=4 firstLen=1 then a gap that would go below zero.
	b := mustDecodeHex("020400010120")
	_, _, err := ParseFrame(b, nil, CodecParams{})
	e, ok := err.(*Error)
	if !ok || e.Code != FrameEncodingError {
		t.Fatalf("expect FRAME_ENCODING_ERROR, actual %v", err)
	}
}

func TestFrameAckDelayOverflow(t *testing.T) {
	// Ack delay with all 62 bits set overflows once shifted.
	b := append(mustDecodeHex("0204"), mustDecodeHex("ffffffffffffffff0001")...)
	_, _, err := ParseFrame(b, nil, CodecParams{})
	e, ok := err.(*Error)
	if !ok || e.Code != FrameEncodingError {
		t.Fatalf("expect FRAME_ENCODING_ERROR, actual %v", err)
	}
}

func TestFrameAckTruncated(t *testing.T) {
	f := &AckFrame{
		LargestAck: 100,
		AckDelay:   8,
		AckBlocks:  []AckBlock{{Start: 90, End: 100}},
	}
	b := make([]byte, f.EncodedLen())
	if _, err := f.Encode(b); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(b); i++ {
		if _, _, err := ParseFrame(b[:i], nil, CodecParams{}); err == nil {
			t.Fatalf("truncated ack at %d should fail", i)
		}
	}
}

func TestFrameResetStream(t *testing.T) {
	f := &ResetStreamFrame{
		StreamID:  5,
		ErrorCode: 0x40,
		FinalSize: 0x3fff,
	}
	testFrame(t, f, "040540407fff")
}

func TestFrameStopSending(t *testing.T) {
	f := &StopSendingFrame{
		StreamID:  3,
		ErrorCode: 7,
	}
	testFrame(t, f, "050307")
}

func TestFrameNewToken(t *testing.T) {
	f := &NewTokenFrame{
		Token: []byte{0xaa, 0xbb},
	}
	testFrame(t, f, "0702aabb")

	if _, _, err := ParseFrame(mustDecodeHex("0700"), nil, CodecParams{}); err == nil {
		t.Fatal("empty token should fail")
	}
}

func TestFrameStream(t *testing.T) {
	f := &StreamFrame{
		StreamID: 4,
		Offset:   8,
		Data:     []byte{1, 2, 3},
		Fin:      true,
	}
	testFrame(t, f, "0f040803010203")

	f = &StreamFrame{
		StreamID: 4,
		Data:     []byte{1, 2, 3},
	}
	testFrame(t, f, "0a0403010203")
}

func TestFrameStreamWithoutLength(t *testing.T) {
	// Type 0x08: no OFF, no LEN, no FIN; data extends to packet end.
	b := mustDecodeHex("0804010203")
	g, n, err := ParseFrame(b, nil, CodecParams{})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(b) {
		t.Fatalf("expect frame to consume packet, n=%d", n)
	}
	f := g.(*StreamFrame)
	if f.StreamID != 4 || f.Offset != 0 || f.Fin || !bytes.Equal(f.Data, []byte{1, 2, 3}) {
		t.Fatalf("unexpected frame: %v", f)
	}
}

func TestFrameMaxData(t *testing.T) {
	testFrame(t, &MaxDataFrame{MaximumData: 0x1000}, "105000")
}

func TestFrameMaxStreamData(t *testing.T) {
	testFrame(t, &MaxStreamDataFrame{StreamID: 1, MaximumData: 0x20}, "110120")
}

func TestFrameMaxStreams(t *testing.T) {
	testFrame(t, &MaxStreamsFrame{MaximumStreams: 9, Bidi: true}, "1209")
	testFrame(t, &MaxStreamsFrame{MaximumStreams: 9}, "1309")
}

func TestFrameDataBlocked(t *testing.T) {
	testFrame(t, &DataBlockedFrame{DataLimit: 0x30}, "1430")
}

func TestFrameStreamDataBlocked(t *testing.T) {
	testFrame(t, &StreamDataBlockedFrame{StreamID: 2, DataLimit: 0x30}, "150230")
}

func TestFrameStreamsBlocked(t *testing.T) {
	testFrame(t, &StreamsBlockedFrame{StreamLimit: 4, Bidi: true}, "1604")
	testFrame(t, &StreamsBlockedFrame{StreamLimit: 4}, "1704")
}

func TestFrameNewConnectionID(t *testing.T) {
	f := &NewConnectionIDFrame{
		SequenceNumber:      2,
		RetirePriorTo:       1,
		ConnectionID:        ConnectionID{1, 2, 3, 4, 5, 6, 7, 8},
		StatelessResetToken: mustDecodeHex("000102030405060708090a0b0c0d0e0f"),
	}
	testFrame(t, f, "18020108"+"0102030405060708"+"000102030405060708090a0b0c0d0e0f")

	// 21-byte CID is invalid.
	b := mustDecodeHex("18020115" +
		"010203040506070809101112131415161718192021" +
		"000102030405060708090a0b0c0d0e0f")
	if _, _, err := ParseFrame(b, nil, CodecParams{}); err == nil {
		t.Fatal("oversized connection id should fail")
	}
}

func TestFrameRetireConnectionID(t *testing.T) {
	testFrame(t, &RetireConnectionIDFrame{SequenceNumber: 3}, "1903")
}

func TestFramePathChallenge(t *testing.T) {
	f := &PathChallengeFrame{Data: mustDecodeHex("0102030405060708")}
	testFrame(t, f, "1a0102030405060708")

	if _, _, err := ParseFrame(mustDecodeHex("1a01020304"), nil, CodecParams{}); err == nil {
		t.Fatal("short path challenge should fail")
	}
}

func TestFramePathResponse(t *testing.T) {
	f := &PathResponseFrame{Data: mustDecodeHex("0807060504030201")}
	testFrame(t, f, "1b0807060504030201")
}

func TestFrameConnectionClose(t *testing.T) {
	f := &ConnectionCloseFrame{
		ErrorCode:    FrameEncodingError,
		FrameType:    FrameTypeAck,
		ReasonPhrase: []byte("bad"),
	}
	testFrame(t, f, "1c070203626164")

	f = &ConnectionCloseFrame{
		ErrorCode:    9,
		ReasonPhrase: []byte("app"),
		Application:  true,
	}
	testFrame(t, f, "1d0903617070")
}

func TestFrameConnectionCloseWideFrameType(t *testing.T) {
	// Triggering frame type encoded in 2 bytes must be rejected.
	b := mustDecodeHex("1c07400200")
	_, _, err := ParseFrame(b, nil, CodecParams{})
	e, ok := err.(*Error)
	if !ok || e.Code != FrameEncodingError {
		t.Fatalf("expect FRAME_ENCODING_ERROR, actual %v", err)
	}
}

func TestFrameConnectionCloseReasonTooLong(t *testing.T) {
	b := append(mustdecodeCloseHeader(), make([]byte, 2048)...)
	if _, _, err := ParseFrame(b, nil, CodecParams{}); err == nil {
		t.Fatal("oversized reason phrase should fail")
	}
}

func mustdecodeCloseHeader() []byte {
	// error=7, frame=0, reason length 2048
	return mustDecodeHex("1c070048 00")
}

func TestFrameHandshakeDone(t *testing.T) {
	testFrame(t, &HandshakeDoneFrame{}, "1e")
}

func TestFrameMinStreamData(t *testing.T) {
	f := &MinStreamDataFrame{
		StreamID:            2,
		MaximumData:         0x100,
		MinimumStreamOffset: 0x80,
	}
	testFrame(t, f, "40fe02410040 80")
}

func TestFrameExpiredStreamData(t *testing.T) {
	f := &ExpiredStreamDataFrame{
		StreamID:            2,
		MinimumStreamOffset: 0x80,
	}
	testFrame(t, f, "40ff024080")
}

func TestParseFrameUnknownType(t *testing.T) {
	_, _, err := ParseFrame(mustDecodeHex("4021ff"), nil, CodecParams{})
	e, ok := err.(*Error)
	if !ok || e.Code != FrameEncodingError || e.FrameType != 0x21 {
		t.Fatalf("expect frame-type tagged error, actual %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	b := mustDecodeHex("01" + "00000000" + "1e")
	frames, err := ParsePayload(b, nil, CodecParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("expect 3 frames, actual %d: %v", len(frames), frames)
	}
	if p, ok := frames[1].(*PaddingFrame); !ok || p.Length != 4 {
		t.Fatalf("expect coalesced padding of 4, actual %v", frames[1])
	}
}

func TestParsePayloadError(t *testing.T) {
	// Crypto frame with length running past the payload.
	b := mustDecodeHex("0600ff")
	_, err := ParsePayload(b, nil, CodecParams{})
	e, ok := err.(*Error)
	if !ok || e.Code != FrameEncodingError {
		t.Fatalf("expect FRAME_ENCODING_ERROR, actual %v", err)
	}
}
