package cluster

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/nodecrew/beamkit"
)

// macSize is the HMAC-SHA256 tag length appended to every frame when a
// cluster secret is configured, per spec.md §6 "len:u32be || mac:32B (if
// secret) || payload".
const macSize = sha256.Size

// maxFrameSize bounds a single frame's payload, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxFrameSize = 32 << 20

// writeFrame writes payload to w, length-prefixed and optionally
// HMAC-tagged with secret.
func writeFrame(w io.Writer, payload []byte, secret []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if len(secret) > 0 {
		mac := hmac.New(sha256.New, secret)
		mac.Write(payload)
		if _, err := w.Write(mac.Sum(nil)); err != nil {
			return errors.Wrap(err, "write frame mac")
		}
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// readFrame reads one length-prefixed (and, if secret is set,
// HMAC-validated) frame from r.
func readFrame(r io.Reader, secret []byte) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, beamkit.New(beamkit.KindMessageSerialization, "cluster.readFrame", "frame exceeds maximum size")
	}

	var mac []byte
	if len(secret) > 0 {
		mac = make([]byte, macSize)
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, errors.Wrap(err, "read frame mac")
		}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}

	if len(secret) > 0 {
		expected := hmac.New(sha256.New, secret)
		expected.Write(payload)
		if !hmac.Equal(mac, expected.Sum(nil)) {
			return nil, beamkit.New(beamkit.KindInvalidClusterConf, "cluster.readFrame", "HMAC mismatch")
		}
	}

	return payload, nil
}
