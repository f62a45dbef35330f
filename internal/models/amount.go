package models

import (
	"fmt"
	"strings"
)

var currencySymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"KES": "KSh",
	"GHS": "GH₵",
	"ZAR": "R",
}

// FormatAmount renders an amount in minor currency units as a display
// string with a currency symbol and thousands separators, e.g.
// (5000000, "NGN") -> "₦50,000". Fractional parts are kept only when
// the amount does not divide evenly into major units.
func FormatAmount(amount int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	symbol, ok := currencySymbols[code]
	if !ok {
		symbol = code + " "
	}

	major := amount / 100
	minor := amount % 100
	if minor < 0 {
		minor = -minor
	}

	s := groupThousands(major)
	if minor != 0 {
		s = fmt.Sprintf("%s.%02d", s, minor)
	}
	return symbol + s
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}

	digits := fmt.Sprintf("%d", n)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
