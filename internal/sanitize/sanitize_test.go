package sanitize

import "testing"

func TestTextStripsInvisibles(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"zero width space", "he\u200Bllo", "hello"},
		{"bom", "\uFEFFhello", "hello"},
		{"soft hyphen", "co\u00ADoperate", "cooperate"},
		{"word joiner", "a\u2060b", "ab"},
		{"bidi override", "abc\u202Edef\u202C", "abcdef"},
		{"bidi isolates", "\u2066hidden\u2069", "hidden"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"strips c0 controls", "a\x00\x07b", "ab"},
		{"strips c1 controls", "a\u0085\u0090b", "ab"},
		{"strips del", "a\x7Fb", "ab"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Fatalf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextNFCNormalization(t *testing.T) {
	// e + combining acute accent composes to a single rune.
	decomposed := "cafe\u0301"
	composed := "caf\u00E9"
	if got := Text(decomposed); got != composed {
		t.Fatalf("Text(%q) = %q, want %q", decomposed, got, composed)
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"he\u200Bllo\u202E world",
		"café \uFEFF",
		"a\n\tb\x07",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Fatalf("Text not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
