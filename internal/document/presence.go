package document

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultOnlineWindow is how long a heartbeat keeps a member online.
const DefaultOnlineWindow = 25 * time.Second

const dateLayout = "2006-01-02"

// IsOnline reports whether m sent a heartbeat strictly less than window ago.
// There is no offline event; stale presence simply stops satisfying this.
func IsOnline(m Member, now time.Time, window time.Duration) bool {
	if m.LastActive.IsZero() {
		return false
	}
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	return now.Sub(m.LastActive.Time()) < window
}

func OnlineMembers(members []Member, now time.Time, window time.Duration) []Member {
	out := []Member{}
	for _, m := range members {
		if IsOnline(m, now, window) {
			out = append(out, m)
		}
	}
	return out
}

// DaysCount is the inclusive day span between two YYYY-MM-DD dates. It
// returns 0 when either date is unparseable or end precedes start.
func DaysCount(startDate, endDate string) int {
	start, err := time.Parse(dateLayout, strings.TrimSpace(startDate))
	if err != nil {
		return 0
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(endDate))
	if err != nil {
		return 0
	}
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// NormalizeName trims and NFC-composes a member name so visually identical
// names typed on different keyboards compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizePhone reduces a phone number to international digits-only form.
// Numbers entered in national format (leading 0, or a bare 10-digit mobile
// number) get the 90 country code.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return "90" + digits[1:]
	case len(digits) == 10 && digits[0] == '5':
		return "90" + digits
	default:
		return digits
	}
}
