package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// ErrInvalidParams is returned for a command that does not name exactly the
// nasal pressure signal.
var ErrInvalidParams = errors.New("api: invalid params")

// ValidateSignalIDs accepts exactly one id, and only SignalID.
func ValidateSignalIDs(ids []uint32) error {
	if len(ids) != 1 {
		return fmt.Errorf("%w: want 1 signal id, got %d", ErrInvalidParams, len(ids))
	}
	if ids[0] != sampler.SignalID {
		return fmt.Errorf("%w: unknown signal id %d", ErrInvalidParams, ids[0])
	}
	return nil
}

// ParseSignalIDs decodes a JSON array of signal ids and validates it.
func ParseSignalIDs(raw json.RawMessage) ([]uint32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing params", ErrInvalidParams)
	}
	var ids []uint32
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if err := ValidateSignalIDs(ids); err != nil {
		return nil, err
	}
	return ids, nil
}
