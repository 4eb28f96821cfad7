package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CodecName is the content subtype the service is served with. Clients
// select it with grpc.CallContentSubtype(CodecName).
const CodecName = "glide-struct"

// structCodec carries every request and response as a protobuf
// google.protobuf.Struct on the wire. The plain Go types in types.go map
// onto the Struct through their json tags.
type structCodec struct{}

func (structCodec) Marshal(v any) ([]byte, error) {
	st, err := toStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func (structCodec) Unmarshal(data []byte, v any) error {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("api: decode struct: %w", err)
	}
	return fromStruct(&st, v)
}

func (structCodec) Name() string { return CodecName }

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode %T: %w", v, err)
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("api: %T is not an object: %w", v, err)
	}
	return &st, nil
}

func fromStruct(st *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("api: encode struct: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("api: decode %T: %w", v, err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(structCodec{})
}
