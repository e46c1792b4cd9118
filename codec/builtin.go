package codec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

func registerBuiltins(r *Registry) {
	// Registration of builtins cannot collide; ignore the errors.
	_ = r.RegisterType(time.Time{}, timeCodec{})
	_ = r.RegisterType(time.Duration(0), durationCodec{})
	_ = r.RegisterType([]byte(nil), bytesCodec{})
}

// timeCodec encodes time.Time as an RFC 3339 string with nanoseconds.
type timeCodec struct{}

func (timeCodec) Tag() string { return "time" }

func (timeCodec) Encode(_ context.Context, v any) (*Value, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: time codec got %T", ErrEncode, v)
	}
	data, err := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return &Value{Kind: KindObject, Tag: "time", Data: data}, nil
}

func (timeCodec) Decode(_ context.Context, val *Value) (any, error) {
	var s string
	if err := json.Unmarshal(val.Data, &s); err != nil {
		return nil, fmt.Errorf("%w: time: %v", ErrDecode, err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: time: %v", ErrDecode, err)
	}
	return t, nil
}

// durationCodec encodes time.Duration as integer nanoseconds.
type durationCodec struct{}

func (durationCodec) Tag() string { return "duration" }

func (durationCodec) Encode(_ context.Context, v any) (*Value, error) {
	d, ok := v.(time.Duration)
	if !ok {
		return nil, fmt.Errorf("%w: duration codec got %T", ErrEncode, v)
	}
	data, err := json.Marshal(int64(d))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return &Value{Kind: KindObject, Tag: "duration", Data: data}, nil
}

func (durationCodec) Decode(_ context.Context, val *Value) (any, error) {
	var ns int64
	if err := json.Unmarshal(val.Data, &ns); err != nil {
		return nil, fmt.Errorf("%w: duration: %v", ErrDecode, err)
	}
	return time.Duration(ns), nil
}

// bytesCodec encodes []byte as standard base64. Without it, byte slices
// would fall into the generic sequence path and decode as []any.
type bytesCodec struct{}

func (bytesCodec) Tag() string { return "bytes" }

func (bytesCodec) Encode(_ context.Context, v any) (*Value, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: bytes codec got %T", ErrEncode, v)
	}
	data, err := json.Marshal(base64.StdEncoding.EncodeToString(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return &Value{Kind: KindObject, Tag: "bytes", Data: data}, nil
}

func (bytesCodec) Decode(_ context.Context, val *Value) (any, error) {
	var s string
	if err := json.Unmarshal(val.Data, &s); err != nil {
		return nil, fmt.Errorf("%w: bytes: %v", ErrDecode, err)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bytes: %v", ErrDecode, err)
	}
	return b, nil
}

// Ensure builtin codecs implement Codec
var (
	_ Codec = timeCodec{}
	_ Codec = durationCodec{}
	_ Codec = bytesCodec{}
)
