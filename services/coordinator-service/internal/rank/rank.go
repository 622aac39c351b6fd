// Package rank derives a specialist's rank label from their completed
// appointment counter. Pure; persistence belongs to the caller.
package rank

// Names is the fixed promotion ladder. One promotion per PromotionStep
// completed appointments, capped at the last entry.
var Names = []string{"Novice", "Experienced", "Professional", "Master", "Expert"}

const PromotionStep = 7

// Baseline is the rank every specialist starts at and returns to on the
// annual reset.
func Baseline() string {
	return Names[0]
}

// ForCompleted returns the rank label for a completed-appointment count.
func ForCompleted(completed int) string {
	if completed < 0 {
		completed = 0
	}
	idx := completed / PromotionStep
	if idx >= len(Names) {
		idx = len(Names) - 1
	}
	return Names[idx]
}

// Next returns the next rank label and how many completions remain until
// it. ok is false once the ladder is capped.
func Next(completed int) (label string, remaining int, ok bool) {
	if completed < 0 {
		completed = 0
	}
	idx := completed / PromotionStep
	if idx >= len(Names)-1 {
		return "", 0, false
	}
	return Names[idx+1], (idx+1)*PromotionStep - completed, true
}
