package model

import (
	"fmt"
	"strings"
)

// EntityType is the kind of billing subject.
type EntityType string

const (
	EntityTypeUser         EntityType = "user"
	EntityTypeOrganization EntityType = "organization"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeUser, EntityTypeOrganization:
		return true
	}
	return false
}

// ParseEntityType normalizes case and surrounding spaces.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// EntityRef identifies who pays. The ledger references entities by id only
// and never creates or validates them beyond the type.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

func (e EntityRef) String() string {
	return string(e.Type) + ":" + e.ID
}
