package codec

import "errors"

// Sentinel errors for encode/decode operations.
var (
	// ErrEncode is returned when a value cannot be turned into a storable
	// representation.
	ErrEncode = errors.New("codec: cannot encode value")

	// ErrDecode is returned when a stored value cannot be reconstructed.
	ErrDecode = errors.New("codec: cannot decode value")

	// ErrUnknownTag is returned when a stored tag has no registered codec.
	// It is always wrapped in ErrDecode by Registry.Decode.
	ErrUnknownTag = errors.New("codec: unknown tag")

	// ErrDuplicateTag is returned when registering a codec whose tag is
	// already taken.
	ErrDuplicateTag = errors.New("codec: tag already registered")
)
