package rpcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeFrame packs sender, the target endpoint name, and payload into the
// single opaque byte slice handed to a remote Outbox and, from there,
// straight through to a transport.Client as an opaque frame. The
// Client/Server contract carries plain bytes; rpcore owns the shape of those
// bytes so that any transport implementation (gRPC or otherwise) can recover
// routing information with DecodeFrame without inventing its own envelope.
func EncodeFrame(sender Address, name string, payload []byte) []byte {
	var buf bytes.Buffer

	writeFrameString(&buf, sender.Host)
	writeFrameUint32(&buf, uint32(sender.Port))
	writeFrameString(&buf, name)
	buf.Write(payload)

	return buf.Bytes()
}

// DecodeFrame is EncodeFrame's inverse, used by a transport's Server
// implementation right before calling InboundHandler.
func DecodeFrame(frame []byte) (sender Address, name string, payload []byte, err error) {
	r := bytes.NewReader(frame)

	host, err := readFrameString(r)
	if err != nil {
		return Address{}, "", nil, fmt.Errorf(
			"rpcore: decoding frame sender host: %w", err)
	}

	port, err := readFrameUint32(r)
	if err != nil {
		return Address{}, "", nil, fmt.Errorf(
			"rpcore: decoding frame sender port: %w", err)
	}

	name, err = readFrameString(r)
	if err != nil {
		return Address{}, "", nil, fmt.Errorf(
			"rpcore: decoding frame endpoint name: %w", err)
	}

	rest := make([]byte, r.Len())
	if r.Len() > 0 {
		if _, err := r.Read(rest); err != nil {
			return Address{}, "", nil, fmt.Errorf(
				"rpcore: decoding frame payload: %w", err)
		}
	}

	return Address{Host: host, Port: int(port)}, name, rest, nil
}

func writeFrameUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readFrameUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeFrameString(buf *bytes.Buffer, s string) {
	writeFrameUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readFrameString(r *bytes.Reader) (string, error) {
	n, err := readFrameUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}
