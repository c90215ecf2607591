package p2p

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/playergold/node/errors"
)

// maxFrameBytes bounds a single envelope to guard against a malicious
// or buggy peer claiming an unbounded length prefix.
const maxFrameBytes = 16 * 1024 * 1024

// writeFrame writes env as a 4-byte big-endian length prefix followed
// by its JSON encoding, per spec.md §4.6.
func writeFrame(w io.Writer, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errors.NewProtocolError("p2p: encode envelope", err)
	}
	if len(body) > maxFrameBytes {
		return errors.NewProtocolError("p2p: envelope exceeds frame limit", nil)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return errors.NewTransientNetworkError("p2p: write frame length", err)
	}
	if _, err := w.Write(body); err != nil {
		return errors.NewTransientNetworkError("p2p: write frame body", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON envelope from r.
func readFrame(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, errors.NewTransientNetworkError("p2p: read frame length", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 || n > maxFrameBytes {
		return Envelope{}, errors.NewProtocolError("p2p: invalid frame length", nil)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, errors.NewTransientNetworkError("p2p: read frame body", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, errors.NewProtocolError("p2p: decode envelope", err)
	}
	return env, nil
}
