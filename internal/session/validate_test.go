package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default session", "main", false},
		{"with numbers", "work123", false},
		{"with hyphen", "my-session", false},
		{"with underscore", "my_session", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my session", true},
		{"dot", "my.session", true},
		{"dotdot traversal", "..", true},
		{"over max length", strings.Repeat("a", 65), true},
		{"special chars", "my@session", true},
		{"path separator", "my/session", true},
		{"unicode", "séance", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
