package stops

import (
	"errors"
	"fmt"
	"math"
)

// ErrPrecondition marks input that was rejected before any mutation.
var ErrPrecondition = errors.New("precondition violated")

// PreconditionError describes a rejected parameter.
type PreconditionError struct {
	Field  string
	Value  any
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// IDError is returned for identifiers that do not have the 5-field shape.
type IDError struct {
	ID     string
	Reason string
}

func (e *IDError) Error() string {
	return fmt.Sprintf("malformed stop id %q: %s", e.ID, e.Reason)
}

func (e *IDError) Unwrap() error { return ErrPrecondition }

// CheckCoordinates rejects latitudes outside [-90, 90], longitudes outside
// [-180, 180] and non-finite values.
func CheckCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &PreconditionError{Field: "latitude", Value: lat, Reason: "must be within [-90, 90]"}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return &PreconditionError{Field: "longitude", Value: lon, Reason: "must be within [-180, 180]"}
	}
	return nil
}

// ValidateStops checks every identifier and coordinate and returns the first
// failure.
func ValidateStops(list []Stop) error {
	seen := make(map[ID]struct{}, len(list))
	for _, s := range list {
		if _, err := ParseID(string(s.ID)); err != nil {
			return err
		}
		if err := CheckCoordinates(s.Lat, s.Lon); err != nil {
			return fmt.Errorf("stop %s: %w", s.ID, err)
		}
		if _, dup := seen[s.ID]; dup {
			return &PreconditionError{Field: "stop id", Value: s.ID, Reason: "duplicate"}
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
