// Package wire implements the versioned envelope codec shared by cluster,
// remote, globalreg and dsupervisor, per spec.md §6 "Cluster wire protocol
// (version 1)": `{ v: 1, kind, corrId?, from, to?, body }`. Grounded on the
// msgpack wire protocols named across the retrieval pack's manifests
// (hashicorp-serf, DataDog-datadog-agent, aristath-portfolioManager each
// carry one for their own transports) — msgpack preserves nested structs,
// maps and time.Time across the wire the way spec.md requires without a
// schema compiler.
package wire

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nodecrew/beamkit"
)

// ProtocolVersion is the only version this codec speaks.
const ProtocolVersion = 1

// Envelope is the wire-level message wrapper. Body is kept as a raw
// msgpack extension so intermediate relays (gossip forwarding) never need
// to know the concrete payload type.
type Envelope struct {
	V      int             `msgpack:"v"`
	Kind   string          `msgpack:"kind"`
	CorrID string          `msgpack:"corrId,omitempty"`
	From   string          `msgpack:"from"`
	To     string          `msgpack:"to,omitempty"`
	Body   msgpack.RawMessage `msgpack:"body"`
}

// Encode marshals kind/from/to/corrID plus body (any msgpack-encodable
// value) into a complete Envelope payload ready for framing.
func Encode(kind, corrID, from, to string, body interface{}) ([]byte, error) {
	rawBody, err := msgpack.Marshal(body)
	if err != nil {
		return nil, beamkit.Wrap(beamkit.KindMessageSerialization, "wire.Encode", errors.Wrap(err, "marshal body"))
	}
	env := Envelope{V: ProtocolVersion, Kind: kind, CorrID: corrID, From: from, To: to, Body: rawBody}
	out, err := msgpack.Marshal(env)
	if err != nil {
		return nil, beamkit.Wrap(beamkit.KindMessageSerialization, "wire.Encode", errors.Wrap(err, "marshal envelope"))
	}
	return out, nil
}

// Decode unmarshals a complete Envelope payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, beamkit.Wrap(beamkit.KindMessageSerialization, "wire.Decode", errors.Wrap(err, "unmarshal envelope"))
	}
	if env.V != ProtocolVersion {
		return Envelope{}, beamkit.New(beamkit.KindMessageSerialization, "wire.Decode", "unsupported envelope version")
	}
	return env, nil
}

// DecodeBody unmarshals e.Body into out.
func (e Envelope) DecodeBody(out interface{}) error {
	if err := msgpack.Unmarshal(e.Body, out); err != nil {
		return beamkit.Wrap(beamkit.KindMessageSerialization, "wire.DecodeBody", errors.Wrap(err, "unmarshal body"))
	}
	return nil
}
