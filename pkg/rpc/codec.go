// Package rpc is the typed gRPC surface of a replica: the client-facing chat
// operations and the replica-to-replica coordination calls. Messages are
// plain Go structs carried by a registered JSON codec; the service
// descriptor is written out by hand instead of generated, since the
// replication and snapshot wire format is JSON by contract anyway.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype used on the wire.
const codecName = "json"

// Codec marshals RPC messages as JSON.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
