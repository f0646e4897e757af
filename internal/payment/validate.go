package payment

import (
	"math"
	"strings"
	"unicode"
)

const maxNoteRunes = 140

// RoundSum rounds to whole cents, half away from zero.
func RoundSum(sum float64) float64 {
	return math.Round(sum*100) / 100
}

func validateSum(sum float64) (float64, error) {
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, &ValidationError{Field: "sum", Reason: "not a number"}
	}
	rounded := RoundSum(sum)
	if rounded <= 0 {
		return 0, &ValidationError{Field: "sum", Reason: "must be positive after rounding to cents"}
	}
	return rounded, nil
}

// CleanNote drops control characters, collapses whitespace and caps the
// length of a payment note.
func CleanNote(note string) string {
	note = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, note)
	note = strings.Join(strings.Fields(note), " ")

	runes := []rune(note)
	if len(runes) > maxNoteRunes {
		note = strings.TrimSpace(string(runes[:maxNoteRunes]))
	}
	return note
}

func validateNote(note string) (string, error) {
	cleaned := CleanNote(note)
	if cleaned == "" {
		return "", &ValidationError{Field: "note", Reason: "must not be empty"}
	}
	return cleaned, nil
}

// ValidateRequest checks a QR request and returns the rounded sum and the
// cleaned note.
func ValidateRequest(sum float64, note string) (float64, string, error) {
	rounded, err := validateSum(sum)
	if err != nil {
		return 0, "", err
	}
	cleaned, err := validateNote(note)
	if err != nil {
		return 0, "", err
	}
	return rounded, cleaned, nil
}
