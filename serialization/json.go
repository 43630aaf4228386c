package serialization

import "encoding/json"

type JSONSerializer struct{}

var _ Serializer = (*JSONSerializer)(nil)

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errorf("marshal", err)
	}
	return data, nil
}

func (s *JSONSerializer) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errorf("unmarshal", err)
	}
	return nil
}
