package browser

import (
	"fmt"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// GroupKind is the style of a selectable control family on the page.
type GroupKind string

const (
	KindSelect GroupKind = "select"
	KindRadio  GroupKind = "radio"
	KindSwatch GroupKind = "swatch"
)

// Option is one selectable value within a control group.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
	// Selector targets the clickable element for radio/swatch options;
	// empty for dropdown options, which are applied through the group.
	Selector string `json:"selector"`
}

// OptionGroup is one control family (a dropdown, a radio set, a swatch
// row) discovered on the page.
type OptionGroup struct {
	Kind     GroupKind `json:"kind"`
	Selector string    `json:"selector"`
	Options  []Option  `json:"options"`
}

// Choice binds a declared attribute to the concrete option that satisfies
// it.
type Choice struct {
	Attribute models.VariantAttribute
	Group     OptionGroup
	Option    Option
}

// matchSelections maps each declared attribute, in declared order, to the
// first group offering an option whose normalized label matches the
// attribute value. Each group satisfies at most one attribute. An attribute
// with no matching option anywhere fails the whole resolution: selecting a
// default variant instead would silently report the wrong price.
func matchSelections(groups []OptionGroup, attrs []models.VariantAttribute) ([]Choice, error) {
	used := make([]bool, len(groups))
	choices := make([]Choice, 0, len(attrs))

	for _, attr := range attrs {
		found := false
		for gi, group := range groups {
			if used[gi] {
				continue
			}
			for _, opt := range group.Options {
				if util.TokenMatch(opt.Label, attr.Value) || util.TokenMatch(opt.Value, attr.Value) {
					choices = append(choices, Choice{Attribute: attr, Group: group, Option: opt})
					used[gi] = true
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no option matches %s=%q",
				models.ErrVariantNotFound, attr.Name, attr.Value)
		}
	}
	return choices, nil
}
