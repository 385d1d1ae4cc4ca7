package chat

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Hello there", ""},
		{"", ""},
		{"Привет, как дела?", "ru"},
		{"Привіт, як справи?", "uk"},
		{"Їжак", "uk"},
		{"Добры дзень, як ўсё?", "be"},
		{"mixed текст", "ru"},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
