package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArgs string
	}{
		{"open direct:ana", "open", "direct:ana"},
		{":open direct:ana", "open", "direct:ana"},
		{"  SEARCH   hello world  ", "search", "hello world"},
		{"quit", "quit", ""},
		{"", "", ""},
		{":", "", ""},
	}
	for _, tt := range tests {
		got := ParseCommand(tt.input)
		if got.Name != tt.wantName || got.Args != tt.wantArgs {
			t.Errorf("ParseCommand(%q) = {%q, %q}, want {%q, %q}",
				tt.input, got.Name, got.Args, tt.wantName, tt.wantArgs)
		}
	}
}
