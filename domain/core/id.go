package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	InvestigationID ID
	AuditRunID      ID
	ContextID       ID
)

// String conversions for domain IDs
func (id InvestigationID) String() string { return ID(id).String() }
func (id AuditRunID) String() string      { return ID(id).String() }
func (id ContextID) String() string       { return ID(id).String() }

// ParseInvestigationID parses a string into InvestigationID
func ParseInvestigationID(s string) (InvestigationID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("investigation ID cannot be empty")
	}
	return InvestigationID(s), nil
}

// ParseAuditRunID parses a string into AuditRunID
func ParseAuditRunID(s string) (AuditRunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("audit run ID cannot be empty")
	}
	return AuditRunID(s), nil
}
