package sequence

import (
	"fmt"
	"strings"
)

// Policy selects how the Sequencer reacts to a sequence gap.
type Policy int

const (
	// Tolerate delivers out-of-order packets immediately and treats the gap as lost.
	Tolerate Policy = iota
	// Retransmit holds packets back and requests the missing range from the sender.
	Retransmit
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Tolerate:
		return "tolerate"
	case Retransmit:
		return "retransmit"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name, ignoring case.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tolerate":
		return Tolerate, nil
	case "retransmit", "retransmit-request", "retransmit_request":
		return Retransmit, nil
	default:
		return Tolerate, fmt.Errorf("unknown gap policy %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Policy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalFlag implements flags.Unmarshaler so a Policy can be used directly
// as a command-line option.
func (p *Policy) UnmarshalFlag(value string) error {
	parsed, err := ParsePolicy(value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
