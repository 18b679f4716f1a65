package net

import (
	"fmt"

	json "github.com/nikkolasg/hexjson"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content-subtype both sides of a duchy connection
// use. Clients must dial with grpc.CallContentSubtype(CodecName); the server
// side picks the codec up from the registry automatically.
const CodecName = "hexjson"

// wireCodec marshals proto messages as proto and everything else as hexjson,
// which renders byte fields as hex strings. Registered at package init, the
// same way generated code registers its types.
type wireCodec struct{}

//nolint:gochecknoinits // codec registration must happen before any dial
func init() {
	encoding.RegisterCodec(wireCodec{})
}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return json.Marshal(v)
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire codec: %w", err)
	}
	return nil
}

func (wireCodec) Name() string {
	return CodecName
}
