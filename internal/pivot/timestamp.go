package pivot

import (
	"errors"
	"strings"
)

const noData = "n. def."

// normalizeTimestamp converts a portal date token into YYYY-MM-DD[ HH:MM].
//
// Accepted tokens:
//
//	DD.MM.YY HH:MM   hourly
//	DD.MM.YY         daily
//	MM-YY, MM-YYYY   monthly, the day becomes 01
func normalizeTimestamp(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty date")
	}

	if len(token) < 8 {
		if len(token) < 5 {
			return "", errors.New("monthly date too short")
		}
		// month from the front, two-digit year from the back
		token = "01-" + token[:2] + "-" + token[len(token)-2:]
	}

	date, rest := token[:8], token[8:]
	if !isSep(date[2]) || !isSep(date[5]) {
		return "", errors.New("unexpected date separators")
	}
	day, month, year := date[0:2], date[3:5], date[6:8]
	if !isDigits(day) || !isDigits(month) || !isDigits(year) {
		return "", errors.New("non-numeric date")
	}
	if day == "00" || month == "00" || month > "12" || day > "31" {
		return "", errors.New("date out of range")
	}

	canonical := "20" + year + "-" + month + "-" + day
	if rest == "" {
		return canonical, nil
	}

	clock := strings.TrimSpace(rest)
	if len(clock) != 5 || clock[2] != ':' || !isDigits(clock[:2]) || !isDigits(clock[3:]) {
		return "", errors.New("unexpected time of day")
	}
	return canonical + " " + clock, nil
}

// splitTimestamp returns the date and time parts. The time is empty for
// daily and monthly values.
func splitTimestamp(ts string) (string, string) {
	date, clock, ok := strings.Cut(ts, " ")
	if !ok {
		return ts, ""
	}
	return date, clock
}

func isSep(b byte) bool {
	return b == '.' || b == '-' || b == '/'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeValue strips the missing-data marker and converts the decimal comma
func normalizeValue(v string) string {
	v = strings.TrimSpace(strings.ReplaceAll(v, noData, ""))
	return strings.ReplaceAll(v, ",", ".")
}
