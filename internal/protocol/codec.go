package protocol

import (
	"encoding/json"
	"errors"
	"net"
)

// BufferSize is the fixed read buffer spec §4.2 mandates: one socket read
// is treated as one complete frame. This is a known limitation inherited
// from the protocol, not a bug — see DESIGN.md's "Open Question decisions". An
// implementation that needs larger payloads should add explicit framing;
// the teacher's pkg/tcp codec does exactly that with a 4-byte length
// prefix, which this baseline deliberately does not carry, to match the
// spec's documented interop contract of "one message per write, fits in
// 4 KiB".
const BufferSize = 4096

// ErrFrameTooLarge is returned by ReadFrame when a single read fills the
// whole buffer, signalling the message may have been truncated.
var ErrFrameTooLarge = errors.New("protocol: frame did not fit in read buffer")

// WriteEnvelope marshals env and writes it in a single socket write, per
// spec §4.2 ("one message per socket write").
func WriteEnvelope(conn net.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// ReadFrame performs one read of up to BufferSize bytes and returns the
// bytes read. A zero-length read with a nil error never happens on a
// net.Conn; callers treat err == io.EOF as "clean disconnect" per spec
// §4.4 step 1.
func ReadFrame(conn net.Conn) ([]byte, error) {
	buf := make([]byte, BufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == BufferSize {
		return buf[:n], ErrFrameTooLarge
	}
	return buf[:n], nil
}

// DecodeEnvelope attempts the discriminated-envelope parse first, falling
// back to the bare legacy Result shape spec §4.4 step 3 requires the
// server to still accept ("unknown: attempt legacy Result parse;
// otherwise drop"). It returns ok=false only when neither parse
// succeeds, in which case the caller logs and drops the frame without
// closing the connection (spec §4.4 step 2 / §7).
func DecodeEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Type != "" {
		return env, true
	}
	if rp, ok := ParseLegacyResult(raw); ok {
		return NewResult(rp), true
	}
	return Envelope{}, false
}
