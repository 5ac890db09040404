package selectors

import "strings"

// Field validators, per spec §4.7 examples.

func ValidateJobLink(v string) bool {
	return strings.Contains(v, "/vagas/") || strings.HasPrefix(v, "/") || strings.HasPrefix(v, "http")
}

func ValidateSalary(v string) bool {
	placeholders := []string{"a combinar", "não informado", "confidencial"}
	if strings.Contains(v, "R$") {
		return true
	}
	lower := strings.ToLower(v)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func ValidateNonEmpty(v string) bool {
	return strings.TrimSpace(v) != ""
}
