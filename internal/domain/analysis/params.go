package analysis

import (
	"bytes"
	"encoding/json"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// Decode copies the bag into dst, rejecting keys dst does not declare.
func Decode(params Parameters, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return sentinel.Invalidf("encode parameters: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return sentinel.Invalidf("malformed parameters: %v", err)
	}
	return nil
}
