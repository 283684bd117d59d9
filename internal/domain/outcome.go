package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the resolution state of a placed option.
type Outcome string

const (
	// OutcomePending option placed, not resolved yet.
	OutcomePending Outcome = "PENDING"
	// OutcomeWin option expired in the money.
	OutcomeWin Outcome = "WIN"
	// OutcomeLoss option expired out of the money or was never filled.
	OutcomeLoss Outcome = "LOSS"
)

// String returns the string representation.
func (o Outcome) String() string {
	return string(o)
}

// IsTerminal reports whether the outcome will not change anymore.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeWin || o == OutcomeLoss
}

// IsValid checks if the Outcome value is valid.
func (o Outcome) IsValid() bool {
	return o == OutcomePending || o == OutcomeWin || o == OutcomeLoss
}

// UnmarshalJSON accepts any letter case.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed := Outcome(strings.ToUpper(s))
	if !parsed.IsValid() {
		return fmt.Errorf("unknown outcome: %q", s)
	}
	*o = parsed
	return nil
}
