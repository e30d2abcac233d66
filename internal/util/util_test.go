package util

import "testing"

func TestHideAPIKey(t *testing.T) {
	cases := map[string]string{
		"sk-1234567890abcd": "sk-1...abcd",
		"abcdef":            "ab...ef",
		"abc":               "a...c",
		"ab":                "ab",
	}
	for in, want := range cases {
		if got := HideAPIKey(in); got != want {
			t.Fatalf("HideAPIKey(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	got := MaskSensitiveQuery("ma_id=42&api_key=sk-1234567890abcd&auth_token=tok")
	want := "ma_id=42&api_key=sk-1...abcd&auth_token=t...k"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if MaskSensitiveQuery("ma_id=42") != "ma_id=42" {
		t.Fatalf("expected untouched query")
	}
}

func TestMaskBearer(t *testing.T) {
	if got := MaskBearer("Bearer eyJhbGciOiJIUzI1NiJ9.payload.sig"); got != "Bearer eyJh....sig" {
		t.Fatalf("unexpected mask %q", got)
	}
}
