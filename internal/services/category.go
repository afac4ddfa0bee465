package services

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sortimate/api/internal/domain"
)

// ErrUnknownCategory indicates a waste type outside the canonical category set.
var ErrUnknownCategory = errors.New("services: unknown waste category")

var categoryFolder = cases.Fold()

// NormalizeCategory folds a raw waste-type string into a canonical category.
// The only irregular mapping is the US spelling "aluminum", which folds into
// aluminium; everything else must already be a canonical category name.
func NormalizeCategory(input string) (domain.WasteCategory, error) {
	folded := categoryFolder.String(strings.TrimSpace(input))
	if folded == "aluminum" {
		folded = string(domain.CategoryAluminium)
	}

	category := domain.WasteCategory(folded)
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, input)
	}
	return category, nil
}
