package utils

import "testing"

func TestValidateMatchID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"5f1a2b3c4d5e6f7a8b9c0d1e", false},
		{"abc-123_def", false},
		{"", true},
		{"   ", true},
		{"../etc/passwd", true},
		{"a/b", true},
		{`a\b`, true},
		{"a b", true},
		{"a'b", true},
		{"a?b=1", true},
	}
	for _, tt := range tests {
		err := ValidateMatchID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateMatchID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}
