package codec

import (
	"encoding/json"
	"fmt"
)

// CollectFileRefs walks wire-format data and returns every file reference
// it contains. Used by invalidation to find the external resources an
// entry depends on.
func CollectFileRefs(data []byte) ([]FileRef, error) {
	var refs []FileRef
	if err := walkRefs(data, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func walkRefs(raw json.RawMessage, refs *[]FileRef) error {
	switch firstByte(raw) {
	case '{':
		tag, tagged, err := peekTag(raw)
		if err != nil {
			return err
		}
		if tagged && tag == fileTag {
			var ref FileRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return fmt.Errorf("%w: malformed file reference: %v", ErrDecode, err)
			}
			*refs = append(*refs, ref)
			return nil
		}
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for _, m := range members {
			if err := walkRefs(m, refs); err != nil {
				return err
			}
		}
		return nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for _, e := range elems {
			if err := walkRefs(e, refs); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}
