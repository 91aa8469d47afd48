package domain

import "time"

// MonthLabels maps month keys to display labels, e.g. "07" -> "July 2024".
type MonthLabels map[string]string

// Label returns the configured label for key, falling back to the English
// month name, then to the key itself.
func (l MonthLabels) Label(key string) string {
	if s, ok := l[key]; ok && s != "" {
		return s
	}
	if n, err := MonthNumber(key); err == nil {
		return time.Month(n).String()
	}
	return key
}
