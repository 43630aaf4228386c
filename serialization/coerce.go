package serialization

import "encoding/json"

// Raw serializes v into its raw JSON form. A nil value yields a nil raw
// message, which the envelope codec then omits from the wire. Values that
// are already raw JSON pass through unchanged.
func Raw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errorf("marshal value", err)
	}
	return data, nil
}

// Coerce decodes a raw JSON value into target, which must be a pointer.
// This is the second half of the two-stage decode: envelopes hold
// parameters and results as raw JSON, and the consumer re-casts them into a
// concrete shape at the last possible moment.
func Coerce(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errorf("coerce value", err)
	}
	return nil
}

// As coerces a raw JSON value into T. Primitives decode directly; structs
// and maps round-trip through the JSON tree.
func As[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := Coerce(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}
