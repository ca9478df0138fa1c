package document

import (
	"testing"
	"time"
)

func TestIsOnlineBoundary(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	online := Member{Name: "Ali", LastActive: MillisOf(now) - 24999}
	offline := Member{Name: "Veli", LastActive: MillisOf(now) - 25001}

	if !IsOnline(online, now, DefaultOnlineWindow) {
		t.Fatalf("expected member active 24999ms ago to be online")
	}
	if IsOnline(offline, now, DefaultOnlineWindow) {
		t.Fatalf("expected member active 25001ms ago to be offline")
	}
	if IsOnline(Member{Name: "never"}, now, DefaultOnlineWindow) {
		t.Fatalf("expected member without heartbeat to be offline")
	}
}

func TestOnlineMembers(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	members := []Member{
		{Name: "a", LastActive: MillisOf(now) - 1000},
		{Name: "b", LastActive: MillisOf(now) - 60_000},
		{Name: "c"},
	}
	got := OnlineMembers(members, now, 0)
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("expected only a online, got %+v", got)
	}
}

func TestDaysCountInclusive(t *testing.T) {
	if got := DaysCount("2024-01-01", "2024-01-03"); got != 3 {
		t.Fatalf("expected 3 days, got %d", got)
	}
	if got := DaysCount("2024-01-01", "2024-01-01"); got != 1 {
		t.Fatalf("expected single day leave to count 1, got %d", got)
	}
	if got := DaysCount("2024-02-28", "2024-03-01"); got != 3 {
		t.Fatalf("expected leap-year span of 3 days, got %d", got)
	}
	if got := DaysCount("2024-01-03", "2024-01-01"); got != 0 {
		t.Fatalf("expected inverted span to count 0, got %d", got)
	}
	if got := DaysCount("01/01/2024", "2024-01-03"); got != 0 {
		t.Fatalf("expected unparseable date to count 0, got %d", got)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0532 123 45 67":   "905321234567",
		"+90 532 123 4567": "905321234567",
		"5321234567":       "905321234567",
		"0090532123":       "90532123",
		"":                 "",
		"abc":              "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNameComposes(t *testing.T) {
	decomposed := "O\u0308mer"
	if got := NormalizeName("  " + decomposed + " "); got != "\u00d6mer" {
		t.Fatalf("expected NFC composed name, got %q", got)
	}
}
