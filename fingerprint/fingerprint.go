package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/callcache/codec"
)

// KeyLen is the length of the digest portion of a cache key, in hex
// characters.
const KeyLen = 32

// CallSpec identifies a single call: a stable callable name plus its
// arguments. Specs are ephemeral; build one per invocation and hand it
// to a Fingerprinter.
type CallSpec struct {
	// Func is the callable's stable, globally unique identity. It must
	// not change across versions of the program for the same logical
	// computation, or cached results become unreachable.
	Func string

	// Args holds positional arguments in call order.
	Args []any

	// Kwargs holds named arguments. Order is irrelevant; fingerprinting
	// sorts them by name.
	Kwargs map[string]any
}

// Fingerprinter produces cache keys from call specs.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: ctx is passed to argument codecs, which may do I/O for
//     file-backed arguments.
//   - Errors: Key returns codec.ErrEncode (wrapped) when an argument
//     cannot be encoded.
type Fingerprinter struct {
	reg     *codec.Registry
	version string
}

// New creates a Fingerprinter that canonicalizes arguments through reg
// and stamps keys with version. Changing version changes every key, so
// bump it exactly when the codec wire format changes.
func New(reg *codec.Registry, version string) *Fingerprinter {
	return &Fingerprinter{reg: reg, version: version}
}

// Version returns the codec-version tag stamped onto keys.
func (f *Fingerprinter) Version() string { return f.version }

// wireSpec is the canonical shape that gets hashed. Kwargs is a map so
// encoding/json emits its keys sorted.
type wireSpec struct {
	Callable string                     `json:"callable"`
	Args     []json.RawMessage          `json:"args"`
	Kwargs   map[string]json.RawMessage `json:"kwargs"`
}

// Key fingerprints spec into a cache key: a 32-hex-character digest of
// the canonical encoding, a dash, and the codec-version tag. Equal specs
// always produce identical keys in any process running the same codec
// version.
func (f *Fingerprinter) Key(ctx context.Context, spec CallSpec) (string, error) {
	if spec.Func == "" {
		return "", fmt.Errorf("fingerprint: empty callable identity")
	}

	w := wireSpec{
		Callable: spec.Func,
		Args:     make([]json.RawMessage, 0, len(spec.Args)),
		Kwargs:   make(map[string]json.RawMessage, len(spec.Kwargs)),
	}
	for i, arg := range spec.Args {
		raw, err := f.reg.Marshal(ctx, arg)
		if err != nil {
			return "", fmt.Errorf("fingerprint: arg %d: %w", i, err)
		}
		w.Args = append(w.Args, raw)
	}
	for name, arg := range spec.Kwargs {
		raw, err := f.reg.Marshal(ctx, arg)
		if err != nil {
			return "", fmt.Errorf("fingerprint: kwarg %q: %w", name, err)
		}
		w.Kwargs[name] = raw
	}

	canonical, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:KeyLen] + "-" + f.version, nil
}
