package codec

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Codec is an encoder/decoder pair for a value type or capability.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Determinism: Encode must produce byte-identical output for equal
//   inputs; cache keys are hashed over it.
// - Errors: wrap ErrEncode / ErrDecode so callers can classify failures.
type Codec interface {
	// Tag returns the wire tag this codec decodes. Tags are globally
	// unique within a Registry.
	Tag() string

	// Encode turns a matched value into an encoded node.
	Encode(ctx context.Context, v any) (*Value, error)

	// Decode reconstructs a value from an encoded node.
	Decode(ctx context.Context, val *Value) (any, error)
}

// Capability matches values by what they can do rather than by concrete
// type (e.g. "is file-backed").
type Capability struct {
	// Name identifies the capability in error messages.
	Name string

	// Matches reports whether the value satisfies the capability.
	Matches func(v any) bool
}

type capabilityCodec struct {
	cap   Capability
	codec Codec
}

// Registry resolves codecs for values and dispatches decoding on stored
// tags.
//
// Resolution order on encode: exact concrete type, then registered
// capabilities in registration order, then plain JSON primitives
// (scalars, sequences, string-keyed mappings), then the opaque gob
// fallback unless disabled.
type Registry struct {
	mu      sync.RWMutex
	types   map[reflect.Type]Codec
	caps    []capabilityCodec
	tags    map[string]Codec
	opaque  sync.Map // type name -> reflect.Type, for opaque decode
	noFallb bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithoutOpaqueFallback disables the opaque gob fallback; values no codec
// covers fail with ErrEncode instead.
func WithoutOpaqueFallback() Option {
	return func(r *Registry) { r.noFallb = true }
}

// NewRegistry creates a registry with the built-in codecs (time.Time,
// time.Duration, []byte) already registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		types: make(map[reflect.Type]Codec),
		tags:  make(map[string]Codec),
	}
	for _, opt := range opts {
		opt(r)
	}
	registerBuiltins(r)
	return r
}

// RegisterType registers a codec for the concrete type of sample.
func (r *Registry) RegisterType(sample any, c Codec) error {
	if sample == nil || c == nil {
		return fmt.Errorf("codec: invalid type registration")
	}
	rt := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimTag(c); err != nil {
		return err
	}
	r.types[rt] = c
	return nil
}

// RegisterCapability registers a codec for all values matching cap.
// Capabilities are tried in registration order, after exact types.
func (r *Registry) RegisterCapability(cap Capability, c Codec) error {
	if cap.Matches == nil || c == nil {
		return fmt.Errorf("codec: invalid capability registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimTag(c); err != nil {
		return err
	}
	r.caps = append(r.caps, capabilityCodec{cap: cap, codec: c})
	return nil
}

// claimTag records the codec under its tag. Callers hold r.mu.
func (r *Registry) claimTag(c Codec) error {
	tag := c.Tag()
	if tag == "" || tag == opaqueTag {
		return fmt.Errorf("codec: tag %q is reserved", tag)
	}
	if _, exists := r.tags[tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
	}
	r.tags[tag] = c
	return nil
}

// Encode turns v into an encoded value node.
func (r *Registry) Encode(ctx context.Context, v any) (*Value, error) {
	if v == nil {
		return &Value{Kind: KindPrimitive, Raw: json.RawMessage("null")}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return &Value{Kind: KindPrimitive, Raw: json.RawMessage("null")}, nil
		}
	}

	r.mu.RLock()
	exact := r.types[reflect.TypeOf(v)]
	caps := r.caps
	r.mu.RUnlock()

	if exact != nil {
		return exact.Encode(ctx, v)
	}
	for _, cc := range caps {
		if cc.cap.Matches(v) {
			return cc.codec.Encode(ctx, v)
		}
	}

	if prim, ok, err := r.encodePrimitive(ctx, rv); err != nil {
		return nil, err
	} else if ok {
		return prim, nil
	}

	if r.noFallb {
		return nil, fmt.Errorf("%w: no codec for %T and opaque fallback disabled", ErrEncode, v)
	}
	return r.encodeOpaque(v)
}

// encodePrimitive handles JSON-representable scalars, sequences and
// string-keyed mappings, recursing through the registry so nested
// registered types encode as tagged nodes. Object keys are sorted for
// deterministic output.
func (r *Registry) encodePrimitive(ctx context.Context, rv reflect.Value) (*Value, bool, error) {
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return &Value{Kind: KindPrimitive, Raw: raw}, true, nil

	case reflect.Slice, reflect.Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			elem, err := r.Encode(ctx, rv.Index(i).Interface())
			if err != nil {
				return nil, false, err
			}
			raw, err := elem.MarshalJSON()
			if err != nil {
				return nil, false, err
			}
			buf.Write(raw)
		}
		buf.WriteByte(']')
		return &Value{Kind: KindPrimitive, Raw: buf.Bytes()}, true, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyRaw, err := json.Marshal(k)
			if err != nil {
				return nil, false, fmt.Errorf("%w: %v", ErrEncode, err)
			}
			buf.Write(keyRaw)
			buf.WriteByte(':')
			elem, err := r.Encode(ctx, rv.MapIndex(reflect.ValueOf(k)).Interface())
			if err != nil {
				return nil, false, err
			}
			raw, err := elem.MarshalJSON()
			if err != nil {
				return nil, false, err
			}
			buf.Write(raw)
		}
		buf.WriteByte('}')
		return &Value{Kind: KindPrimitive, Raw: buf.Bytes()}, true, nil

	case reflect.Pointer:
		return r.encodePrimitive(ctx, rv.Elem())

	default:
		return nil, false, nil
	}
}

// encodeOpaque serializes v as an inert gob blob. The blob round-trips
// within processes that have encoded the same type; it is not portable
// across incompatible binaries.
func (r *Registry) encodeOpaque(v any) (*Value, error) {
	rt := reflect.TypeOf(v)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).EncodeValue(reflect.ValueOf(v)); err != nil {
		return nil, fmt.Errorf("%w: gob: %v", ErrEncode, err)
	}
	r.opaque.Store(rt.String(), rt)
	return &Value{Kind: KindOpaque, TypeName: rt.String(), Blob: buf.Bytes()}, nil
}

// Decode reconstructs a value from an encoded node. Dispatch depends only
// on the stored tag.
func (r *Registry) Decode(ctx context.Context, val *Value) (any, error) {
	switch val.Kind {
	case KindPrimitive:
		return r.decodeRaw(ctx, val.Raw)

	case KindObject:
		r.mu.RLock()
		c := r.tags[val.Tag]
		r.mu.RUnlock()
		if c == nil {
			return nil, fmt.Errorf("%w: %w %q", ErrDecode, ErrUnknownTag, val.Tag)
		}
		return c.Decode(ctx, val)

	case KindFile:
		r.mu.RLock()
		c := r.tags[fileTag]
		r.mu.RUnlock()
		if c == nil {
			return nil, fmt.Errorf("%w: no file codec registered", ErrDecode)
		}
		return c.Decode(ctx, val)

	case KindOpaque:
		return r.decodeOpaque(val)

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrDecode, val.Kind)
	}
}

func (r *Registry) decodeOpaque(val *Value) (any, error) {
	t, ok := r.opaque.Load(val.TypeName)
	if !ok {
		return nil, fmt.Errorf("%w: opaque type %q not known to this process", ErrDecode, val.TypeName)
	}
	rt := t.(reflect.Type)
	pv := reflect.New(rt)
	if err := gob.NewDecoder(bytes.NewReader(val.Blob)).DecodeValue(pv.Elem()); err != nil {
		return nil, fmt.Errorf("%w: gob: %v", ErrDecode, err)
	}
	return pv.Elem().Interface(), nil
}

// decodeRaw walks a primitive JSON tree, reconstructing any tagged nodes
// it contains.
func (r *Registry) decodeRaw(ctx context.Context, raw json.RawMessage) (any, error) {
	switch firstByte(raw) {
	case '{':
		var val Value
		if err := val.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		if val.Kind != KindPrimitive {
			return r.Decode(ctx, &val)
		}
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		out := make(map[string]any, len(members))
		for k, m := range members {
			dv, err := r.decodeRaw(ctx, m)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			dv, err := r.decodeRaw(ctx, e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil

	default:
		return decodeScalar(raw)
	}
}

// decodeScalar parses a JSON scalar. Integral numbers come back as int64,
// everything else as float64, so small integers survive a round trip.
func decodeScalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if num, ok := v.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			return i, nil
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrDecode, num)
		}
		return f, nil
	}
	return v, nil
}

// Marshal encodes v and renders it in the tagged wire format.
func (r *Registry) Marshal(ctx context.Context, v any) ([]byte, error) {
	val, err := r.Encode(ctx, v)
	if err != nil {
		return nil, err
	}
	return val.MarshalJSON()
}

// Unmarshal parses wire-format data and reconstructs the value.
func (r *Registry) Unmarshal(ctx context.Context, data []byte) (any, error) {
	return r.decodeRaw(ctx, data)
}
