package pkdadmin

import "encoding/json"

// jsonCodec lets the admin gRPC service carry plain Go structs instead of
// protobuf messages. AdminService has no wire-compatibility requirement
// with any other implementation (it is an internal control plane spoken to
// only by this repo's own tooling), so there is nothing a .proto schema
// would buy beyond what encoding/json already gives, and no protoc toolchain
// is available to generate one.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
