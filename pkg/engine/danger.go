package engine

import (
	"fmt"
	"strings"
)

// DangerClass classifies how risky a fix is for the operator's access.
// The numeric order is the plan execution order.
type DangerClass int

const (
	// Safe fixes cannot deny the operator access.
	Safe DangerClass = iota
	// ConfirmRequired fixes are irreversible or service-impacting.
	ConfirmRequired
	// LockoutProtected fixes could sever the current management channel.
	LockoutProtected
)

var dangerNames = map[DangerClass]string{
	Safe:             "safe",
	ConfirmRequired:  "confirm-required",
	LockoutProtected: "lockout-protected",
}

func (c DangerClass) String() string {
	if name, ok := dangerNames[c]; ok {
		return name
	}
	return fmt.Sprintf("danger(%d)", int(c))
}

// MarshalText encodes the class by name for JSON and YAML.
func (c DangerClass) MarshalText() ([]byte, error) {
	if _, ok := dangerNames[c]; !ok {
		return nil, fmt.Errorf("invalid danger class %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name.
func (c *DangerClass) UnmarshalText(b []byte) error {
	parsed, err := ParseDangerClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseDangerClass parses "safe", "confirm-required" or "lockout-protected".
func ParseDangerClass(s string) (DangerClass, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c, n := range dangerNames {
		if n == name {
			return c, nil
		}
	}
	return Safe, fmt.Errorf("unknown danger class %q", s)
}

// FixSpec is a module's static declaration of one fix.
type FixSpec struct {
	ID          string      `json:"id"`
	ModuleName  string      `json:"module"`
	Class       DangerClass `json:"danger_class"`
	Description string      `json:"description,omitempty"`
	// Targets are the files the fix mutates; each is snapshotted before apply.
	Targets []string `json:"targets,omitempty"`
}

// FixLookup resolves fix declarations during plan building.
type FixLookup interface {
	LookupFix(fixID string) (FixSpec, bool)
}
