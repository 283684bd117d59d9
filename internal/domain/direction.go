// Package domain defines core data structures used throughout the option robot.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is the side of a binary option.
type Direction int

const (
	// DirectionCall bets on the price rising within the expiry window.
	DirectionCall Direction = iota
	// DirectionPut bets on the price falling within the expiry window.
	DirectionPut
)

const (
	directionStringCall = "CALL"
	directionStringPut  = "PUT"
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionCall:
		return directionStringCall
	case DirectionPut:
		return directionStringPut
	default:
		return "UNKNOWN"
	}
}

// Wire returns the lowercase form brokers expect in request bodies.
func (d Direction) Wire() string {
	return strings.ToLower(d.String())
}

// IsValid checks if the Direction value is valid.
func (d Direction) IsValid() bool {
	return d == DirectionCall || d == DirectionPut
}

// ParseDirection parses CALL/PUT, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case directionStringCall:
		return DirectionCall, nil
	case directionStringPut:
		return DirectionPut, nil
	default:
		return 0, fmt.Errorf("unknown direction: %q", s)
	}
}

// MarshalJSON encodes the direction as its string form.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes CALL/PUT.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
