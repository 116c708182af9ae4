package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame so a corrupt length prefix can never
// make the reader allocate unbounded memory.
const maxFrameBytes = 64 << 20

// writeFrame writes one length-prefixed frame: a 4-byte big-endian length
// followed by data. TCP gives no message boundaries of its own, so every
// frame on the wire carries its own length the way the original's ZMQ
// multipart messages did implicitly.
func writeFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeMessage writes the two logical frames of an application message:
// status then payload. The identity frame is not repeated per message; it
// is established once at connection time (see tcp.go).
func writeMessage(w io.Writer, status string, payload []byte) error {
	if err := writeFrame(w, []byte(status)); err != nil {
		return err
	}
	return writeFrame(w, payload)
}

func readMessage(r io.Reader) (status string, payload []byte, err error) {
	statusFrame, err := readFrame(r)
	if err != nil {
		return "", nil, err
	}
	payloadFrame, err := readFrame(r)
	if err != nil {
		return "", nil, err
	}
	return string(statusFrame), payloadFrame, nil
}
