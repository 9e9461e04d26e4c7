package vision

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// NormalizePrice converts a heterogeneous price string ("$1.99", "1,99€",
// "1.234,56") into a plain decimal value. Ambiguous formats are rejected
// rather than guessed: a single comma or point followed by exactly three
// digits could be either a decimal or a thousands separator, so it fails.
func NormalizePrice(s string) (float64, error) {
	cleaned := stripCurrency(s)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty price %q", ErrMalformedOutput, s)
	}
	if strings.HasPrefix(cleaned, "-") {
		return 0, fmt.Errorf("%w: negative price %q", ErrMalformedOutput, s)
	}

	for _, r := range cleaned {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return 0, fmt.Errorf("%w: unparseable price %q", ErrMalformedOutput, s)
		}
	}

	dot := strings.LastIndex(cleaned, ".")
	comma := strings.LastIndex(cleaned, ",")

	var normalized string
	switch {
	case dot >= 0 && comma >= 0:
		// Both present: the rightmost is the decimal separator, the other
		// is a thousands separator.
		if dot > comma {
			normalized = strings.ReplaceAll(cleaned, ",", "")
		} else {
			normalized = strings.ReplaceAll(cleaned, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		}
	case dot < 0 && comma < 0:
		normalized = cleaned
	default:
		sep := byte('.')
		if comma >= 0 {
			sep = ','
		}
		var err error
		normalized, err = resolveSingleSeparator(cleaned, sep)
		if err != nil {
			return 0, fmt.Errorf("%w: %v in %q", ErrMalformedOutput, err, s)
		}
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable price %q", ErrMalformedOutput, s)
	}
	return v, nil
}

// resolveSingleSeparator decides whether the only separator kind present is
// decimal or thousands. One or two trailing digits mean decimal; repeated
// three-digit groups mean thousands; exactly one group of three is ambiguous.
func resolveSingleSeparator(s string, sep byte) (string, error) {
	parts := strings.Split(s, string(sep))
	last := parts[len(parts)-1]

	if len(parts) == 2 {
		switch {
		case len(last) == 3:
			return "", fmt.Errorf("ambiguous separator")
		case len(last) >= 1 && len(last) <= 2:
			return parts[0] + "." + last, nil
		default:
			return "", fmt.Errorf("invalid digit grouping")
		}
	}

	// More than one separator of the same kind: must be thousands grouping.
	for i, p := range parts {
		if i == 0 {
			if p == "" {
				return "", fmt.Errorf("invalid digit grouping")
			}
			continue
		}
		if len(p) != 3 {
			return "", fmt.Errorf("invalid digit grouping")
		}
	}
	return strings.Join(parts, ""), nil
}

// stripCurrency drops currency symbols, letters and whitespace, keeping
// digits, separators and a leading sign.
func stripCurrency(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
