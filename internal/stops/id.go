package stops

import (
	"sort"
	"strconv"
	"strings"
)

// IDFields is the number of colon-delimited fields in a stop identifier.
const IDFields = 5

// ID is an opaque stop identifier such as "at:49:1000:0:1". The first four
// fields identify the station, the fifth the platform or exit.
type ID string

// ParseID validates the identifier shape. Empty fields are rejected.
func ParseID(s string) (ID, error) {
	fields := strings.Split(s, ":")
	if len(fields) != IDFields {
		return "", &IDError{ID: s, Reason: "expected 5 colon-delimited fields"}
	}
	for i, f := range fields {
		if f == "" {
			return "", &IDError{ID: s, Reason: "field " + strconv.Itoa(i+1) + " is empty"}
		}
	}
	return ID(s), nil
}

// MustParseID is ParseID for fixtures and constants. It panics on error.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// StationKey returns the first four fields. It is only meaningful for
// identifiers that passed ParseID.
func (id ID) StationKey() string {
	s := string(id)
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s
	}
	return s[:i]
}

// PlatformKey returns the fifth field.
func (id ID) PlatformKey() string {
	s := string(id)
	return s[strings.LastIndexByte(s, ':')+1:]
}

// SameStation reports whether a and b are different platforms of one station.
func SameStation(a, b ID) bool {
	return a != b && a.StationKey() == b.StationKey() && a.PlatformKey() != b.PlatformKey()
}

// SortIDs sorts identifiers ascending in place.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
