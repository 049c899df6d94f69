package domain

import (
	"fmt"

	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// TherapyLine is one medicine of the therapy being assembled
type TherapyLine struct {
	Key           string   `json:"key"`
	MedicineID    types.ID `json:"medicineId"`
	MedicineName  string   `json:"medicineName"`
	Dosage        string   `json:"dosage"`
	DurationValue int      `json:"durationValue"`
	DurationUnit  string   `json:"durationUnit"`
	Notes         string   `json:"notes,omitempty"`
	IsCustom      bool     `json:"isCustom"`
	Cost          float64  `json:"cost"`
}

// LineChange is a partial update to a therapy line. Nil fields are left
// untouched. A medicine swap must come with the new cost already resolved;
// the engine itself never talks to the reference system.
type LineChange struct {
	MedicineID    *types.ID
	MedicineName  *string
	Cost          *float64
	Dosage        *string
	DurationValue *int
	DurationUnit  *string
	Notes         *string
}

// Customization is the edit set over a protocol's proposed therapy. Every
// operation returns a new value and leaves the receiver untouched, so a
// held reference (a validation snapshot, an earlier step's view) can never
// change under the holder.
type Customization struct {
	base       map[string]TherapyLine
	lines      map[string]TherapyLine
	order      []string
	overridden map[string]bool
}

// NewCustomization starts an edit set from the protocol's proposed lines
func NewCustomization(protocolLines []TherapyLine) *Customization {
	c := &Customization{
		base:       make(map[string]TherapyLine, len(protocolLines)),
		lines:      make(map[string]TherapyLine, len(protocolLines)),
		order:      make([]string, 0, len(protocolLines)),
		overridden: make(map[string]bool),
	}
	for _, line := range protocolLines {
		line.IsCustom = false
		c.base[line.Key] = line
		c.lines[line.Key] = line
		c.order = append(c.order, line.Key)
	}
	return c
}

func (c *Customization) clone() *Customization {
	next := &Customization{
		base:       c.base, // protocol baseline never changes
		lines:      make(map[string]TherapyLine, len(c.lines)),
		order:      make([]string, len(c.order)),
		overridden: make(map[string]bool, len(c.overridden)),
	}
	for k, v := range c.lines {
		next.lines[k] = v
	}
	copy(next.order, c.order)
	for k, v := range c.overridden {
		next.overridden[k] = v
	}
	return next
}

// ToggleOverride flips a protocol line between its proposed form and an
// editable override. Toggling an overridden line back discards the edits
// and restores the proposed line exactly.
func (c *Customization) ToggleOverride(key string) (*Customization, error) {
	base, isProtocolLine := c.base[key]
	if !isProtocolLine {
		return nil, fmt.Errorf("line %q is not a protocol line", key)
	}
	if _, present := c.lines[key]; !present {
		return nil, fmt.Errorf("line %q has been removed", key)
	}

	next := c.clone()
	if next.overridden[key] {
		next.lines[key] = base
		delete(next.overridden, key)
	} else {
		next.overridden[key] = true
	}
	return next, nil
}

// AddCustom appends a clinician-added medicine. The caller assigns the key
// and resolves the cost.
func (c *Customization) AddCustom(line TherapyLine) (*Customization, error) {
	if line.Key == "" {
		return nil, fmt.Errorf("custom line needs a key")
	}
	if _, exists := c.lines[line.Key]; exists {
		return nil, fmt.Errorf("line %q already exists", line.Key)
	}
	line.IsCustom = true

	next := c.clone()
	next.lines[line.Key] = line
	next.order = append(next.order, line.Key)
	return next, nil
}

// Update applies a partial change to a line. Later updates simply replace
// earlier ones. Protocol lines must be overridden before they accept edits.
func (c *Customization) Update(key string, change LineChange) (*Customization, error) {
	line, ok := c.lines[key]
	if !ok {
		return nil, fmt.Errorf("line %q not found", key)
	}
	if !line.IsCustom && !c.overridden[key] {
		return nil, fmt.Errorf("line %q is not overridden", key)
	}
	if change.MedicineID != nil && change.Cost == nil {
		return nil, fmt.Errorf("medicine change for line %q needs a resolved cost", key)
	}

	if change.MedicineID != nil {
		line.MedicineID = *change.MedicineID
	}
	if change.MedicineName != nil {
		line.MedicineName = *change.MedicineName
	}
	if change.Cost != nil {
		line.Cost = *change.Cost
	}
	if change.Dosage != nil {
		line.Dosage = *change.Dosage
	}
	if change.DurationValue != nil {
		line.DurationValue = *change.DurationValue
	}
	if change.DurationUnit != nil {
		line.DurationUnit = *change.DurationUnit
	}
	if change.Notes != nil {
		line.Notes = *change.Notes
	}

	next := c.clone()
	next.lines[key] = line
	return next, nil
}

// Remove drops a line from the therapy. The protocol baseline is kept for
// the cost comparison.
func (c *Customization) Remove(key string) (*Customization, error) {
	if _, ok := c.lines[key]; !ok {
		return nil, fmt.Errorf("line %q not found", key)
	}

	next := c.clone()
	delete(next.lines, key)
	delete(next.overridden, key)
	for i, k := range next.order {
		if k == key {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	return next, nil
}

// Lines returns the working therapy in insertion order
func (c *Customization) Lines() []TherapyLine {
	out := make([]TherapyLine, 0, len(c.lines))
	for _, key := range c.order {
		if line, ok := c.lines[key]; ok {
			out = append(out, line)
		}
	}
	return out
}

// Line returns a single line by key
func (c *Customization) Line(key string) (TherapyLine, bool) {
	line, ok := c.lines[key]
	return line, ok
}

// IsOverridden reports whether a protocol line is currently overridden
func (c *Customization) IsOverridden(key string) bool {
	return c.overridden[key]
}

// Modified reports whether the working therapy differs from the proposal
func (c *Customization) Modified() bool {
	if len(c.lines) != len(c.base) || len(c.overridden) > 0 {
		return true
	}
	for key, base := range c.base {
		if line, ok := c.lines[key]; !ok || line != base {
			return true
		}
	}
	return false
}

// CostComparison compares the protocol's proposed cost with the working
// therapy's cost. The totals are advisory: a medicine without a known
// price contributes zero rather than blocking the comparison.
type CostComparison struct {
	Original   float64 `json:"original"`
	Customized float64 `json:"customized"`
	Difference float64 `json:"difference"`
}

// Costs computes the advisory cost comparison. The customized total counts
// the customization entries only (overridden protocol lines and clinician
// additions); untouched protocol lines carry no entry and contribute
// nothing to it.
func (c *Customization) Costs() CostComparison {
	var original, customized float64
	for _, line := range c.base {
		original += line.Cost
	}
	for key, line := range c.lines {
		if line.IsCustom || c.overridden[key] {
			customized += line.Cost
		}
	}
	return CostComparison{
		Original:   original,
		Customized: customized,
		Difference: customized - original,
	}
}
