package relay

import "encoding/json"

// Serialize converts a message value to canonical bytes via JSON.
func Serialize(m any) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, InvalidData("failed to serialize message", err)
	}
	return b, nil
}

// Deserialize decodes canonical bytes into dst, a pointer to the
// destination value.
func Deserialize(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return InvalidData("failed to deserialize message", err)
	}
	return nil
}
