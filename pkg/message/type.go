package message

import (
	"fmt"
	"strings"
)

// TokenUsage holds token counts reported by a provider for one exchange
type TokenUsage struct {
	InputTokens  int `json:"input,omitempty" yaml:"input,omitempty"`
	OutputTokens int `json:"output,omitempty" yaml:"output,omitempty"`
	TotalTokens  int `json:"total,omitempty" yaml:"total,omitempty"`
}

// IsZero reports whether no usage was recorded
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// Role identifies who authored a message
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
	RoleSystem
)

// String returns the wire name of the role
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ParseRole is the inverse of Role.String. "model" and "bot" are accepted as
// assistant aliases found in older exports.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser, nil
	case "assistant", "model", "bot":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// MarshalText encodes the role by name so persisted JSON stays readable
func (r Role) MarshalText() ([]byte, error) {
	if r < RoleUser || r > RoleSystem {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
