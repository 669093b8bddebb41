package game

import "fmt"

// ClampHP applies delta to hp and bounds the result to [0, maxHP].
func ClampHP(hp, delta, maxHP int) int {
	next := hp + delta
	if next > maxHP {
		next = maxHP
	}
	if next < 0 {
		next = 0
	}
	return next
}

// Modifier returns the ability modifier for a score: floor((score-10)/2).
func Modifier(score int) int {
	d := score - 10
	if d < 0 && d%2 != 0 {
		return d/2 - 1
	}
	return d / 2
}

// FormatModifier renders a modifier with an explicit sign.
func FormatModifier(mod int) string {
	if mod >= 0 {
		return fmt.Sprintf("+%d", mod)
	}
	return fmt.Sprintf("%d", mod)
}
