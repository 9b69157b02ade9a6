package payments

import (
	"regexp"
	"strings"
)

var ugMSISDN = regexp.MustCompile(`^256\d{9}$`)

// NormalizePhone canonicalizes a Ugandan phone number to the 12-digit
// 256XXXXXXXXX form. Accepts local ("0700123456"), international
// ("+256700123456", "256700123456") and bare ("700123456") input, with
// spaces and dashes tolerated anywhere.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "256"):
		// already international
	case strings.HasPrefix(p, "0"):
		p = "256" + p[1:]
	default:
		p = "256" + p
	}

	if !ugMSISDN.MatchString(p) {
		return "", &ValidationError{Field: "phone", Message: "invalid Ugandan phone number: " + raw}
	}
	return p, nil
}
