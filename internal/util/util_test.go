package util

import "testing"

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Intelbras AMT":     "intelbras-amt",
		"Partição Garagem":  "particao-garagem",
		"  Zone #12 (PIR) ": "zone-12-pir",
		"amt2mqtt":          "amt2mqtt",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinWithOr(t *testing.T) {
	tests := []struct {
		items []string
		want  string
	}{
		{nil, ""},
		{[]string{"isecnet2"}, "isecnet2"},
		{[]string{"isecnet2", "legacy"}, "isecnet2 or legacy"},
		{[]string{"a", "b", "c"}, "a, b or c"},
	}
	for _, tt := range tests {
		if got := JoinWithOr(tt.items); got != tt.want {
			t.Errorf("JoinWithOr(%v) = %q, want %q", tt.items, got, tt.want)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits(" 12-34 a56"); got != "123456" {
		t.Errorf("Digits() = %q, want 123456", got)
	}
	if !Contains([]string{"a", "b"}, "b") || Contains([]string{"a"}, "c") {
		t.Error("Contains() mismatch")
	}
}
