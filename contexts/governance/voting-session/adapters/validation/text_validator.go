package validation

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"
)

const DefaultMaxLength = 1024

// TextValidator trims proposal text and rejects anything empty, oversized,
// not valid UTF-8, or carrying control characters other than newlines and
// tabs.
type TextValidator struct {
	MaxLength int
}

func (v TextValidator) ValidateDescription(_ context.Context, description string) (string, error) {
	if !utf8.ValidString(description) {
		return "", domainerrors.ErrInvalidDescription
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", domainerrors.ErrInvalidDescription
	}
	maxLength := v.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if utf8.RuneCountInString(description) > maxLength {
		return "", domainerrors.ErrInvalidDescription
	}
	for _, r := range description {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return "", domainerrors.ErrInvalidDescription
		}
	}
	return description, nil
}

var _ ports.ProposalValidator = TextValidator{}
