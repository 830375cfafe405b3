package estop

import (
	"maps"
	"slices"
)

// Procedures is the operator reference card for emergencies.
type Procedures struct {
	// Steps maps emergency names to ordered instructions.
	Steps map[string][]string `json:"procedures"`
	// Contacts lists who to call, ordered by priority.
	Contacts []Contact `json:"emergency_contacts"`
}

// Procedures returns a copy of the configured emergency procedures.
func (a *Adapter) Procedures() *Procedures {
	steps := make(map[string][]string, len(a.cfg.Procedures))
	for name, list := range a.cfg.Procedures {
		steps[name] = slices.Clone(list)
	}

	contacts := slices.Clone(a.cfg.Contacts)
	slices.SortStableFunc(contacts, func(x, y Contact) int {
		return x.Priority - y.Priority
	})

	return &Procedures{Steps: steps, Contacts: contacts}
}

// Names lists the procedure names in alphabetical order.
func (p *Procedures) Names() []string {
	return slices.Sorted(maps.Keys(p.Steps))
}
