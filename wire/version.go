package wire

// QUIC versions understood by this implementation.
const (
	Version1     uint32 = 0x00000001
	VersionMVFST uint32 = 0xfaceb001

	// VersionInvalid is deliberately not a real version. A version
	// negotiation packet listing only this value tells clients to go
	// elsewhere while the server drains.
	VersionInvalid uint32 = 0xfaceb00f
)

// VersionNegotiationPacket is a decoded version negotiation packet.
type VersionNegotiationPacket struct {
	DCID     ConnectionID
	SCID     ConnectionID
	Versions []uint32
}

// BuildVersionNegotiation writes a version negotiation packet: a long
// form initial byte, the zero version, both connection IDs and the
// list of supported versions. It is never encrypted.
// https://www.rfc-editor.org/rfc/rfc8999.html#section-6
func BuildVersionNegotiation(dcid, scid ConnectionID, versions []uint32) ([]byte, error) {
	if len(versions) == 0 {
		return nil, newError(InternalError, "no supported versions")
	}
	b := make([]byte, 1+4+1+len(dcid)+1+len(scid)+4*len(versions))
	enc := newCodec(b)
	ok := enc.writeByte(headerFormMask) &&
		enc.writeUint32(VersionNegotiationSentinel) &&
		enc.writeByte(byte(len(dcid))) &&
		enc.write(dcid) &&
		enc.writeByte(byte(len(scid))) &&
		enc.write(scid)
	if !ok {
		return nil, errShortBuffer
	}
	for _, v := range versions {
		if !enc.writeUint32(v) {
			return nil, errShortBuffer
		}
	}
	return b, nil
}

// ParseVersionNegotiation decodes a version negotiation packet.
func ParseVersionNegotiation(b []byte) (*VersionNegotiationPacket, error) {
	if len(b) == 0 || !IsLongHeader(b[0]) {
		return nil, errInvalidPacket
	}
	h := Header{}
	dec := newCodec(b)
	if err := parseLongHeaderInvariant(&dec, &h); err != nil {
		return nil, err
	}
	if h.Version != VersionNegotiationSentinel {
		return nil, newError(FrameEncodingError, "not a version negotiation packet")
	}
	if dec.len() == 0 || dec.len()%4 != 0 {
		return nil, errInvalidPacket
	}
	p := &VersionNegotiationPacket{
		DCID: h.DCID,
		SCID: h.SCID,
	}
	for dec.len() > 0 {
		var v uint32
		dec.readUint32(&v)
		p.Versions = append(p.Versions, v)
	}
	return p, nil
}
