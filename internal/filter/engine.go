// Package filter implements the stock transition matching engine.
package filter

import "tgtg_watcher/internal/model"

// Transition is the kind of change between two observed quantities of an item.
type Transition int

// Supported transitions.
const (
	Unchanged Transition = iota
	DecreaseToZero
	Decrease
	IncreaseFromZero
	Increase
)

func (t Transition) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case DecreaseToZero:
		return "decrease_to_zero"
	case Decrease:
		return "decrease"
	case IncreaseFromZero:
		return "increase_from_zero"
	case Increase:
		return "increase"
	}
	return "unknown"
}

// Classify returns the transition from previous to current.
// Branches are checked in a fixed order, so a drop to zero is always
// DecreaseToZero and never Decrease.
func Classify(current, previous int) Transition {
	switch {
	case current == previous:
		return Unchanged
	case current == 0:
		return DecreaseToZero
	case current < previous:
		return Decrease
	case previous == 0:
		return IncreaseFromZero
	default:
		return Increase
	}
}

// Interesting reports whether the policy asks to be notified about t.
// Exactly one flag is consulted per transition.
func Interesting(policy model.MessageFilter, t Transition) bool {
	switch t {
	case Unchanged:
		return policy.ShowUnchanged
	case DecreaseToZero:
		return policy.ShowDecreaseToZero
	case Decrease:
		return policy.ShowDecrease
	case IncreaseFromZero:
		return policy.ShowIncreaseFromZero
	case Increase:
		return policy.ShowIncrease
	}
	return false
}

// Match classifies the change and applies the policy in one step.
func Match(policy model.MessageFilter, current, previous int) bool {
	return Interesting(policy, Classify(current, previous))
}

// Field is a toggleable policy flag, addressed by its configuration key.
type Field string

// Policy fields.
const (
	FieldShowUnchanged        Field = "showUnchanged"
	FieldShowDecrease         Field = "showDecrease"
	FieldShowDecreaseToZero   Field = "showDecreaseToZero"
	FieldShowIncrease         Field = "showIncrease"
	FieldShowIncreaseFromZero Field = "showIncreaseFromZero"
)

// Fields lists the policy flags in display order.
var Fields = []Field{
	FieldShowUnchanged,
	FieldShowDecrease,
	FieldShowDecreaseToZero,
	FieldShowIncrease,
	FieldShowIncreaseFromZero,
}

// Toggle flips one policy flag and returns its new value.
// Unknown fields leave the policy unchanged and report false.
func Toggle(policy *model.MessageFilter, f Field) (bool, bool) {
	flag := flagFor(policy, f)
	if flag == nil {
		return false, false
	}
	*flag = !*flag
	return *flag, true
}

// Get returns the value of one policy flag.
func Get(policy model.MessageFilter, f Field) bool {
	flag := flagFor(&policy, f)
	return flag != nil && *flag
}

func flagFor(policy *model.MessageFilter, f Field) *bool {
	switch f {
	case FieldShowUnchanged:
		return &policy.ShowUnchanged
	case FieldShowDecrease:
		return &policy.ShowDecrease
	case FieldShowDecreaseToZero:
		return &policy.ShowDecreaseToZero
	case FieldShowIncrease:
		return &policy.ShowIncrease
	case FieldShowIncreaseFromZero:
		return &policy.ShowIncreaseFromZero
	}
	return nil
}
