package parser

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{}},
		{"   ", []string{}},
		{"lombok", []string{"lombok"}},
		{"lombok AUTHORS README.md", []string{"lombok", "AUTHORS", "README.md"}},
		{"lombok,AUTHORS, ,README.md", []string{"lombok", "AUTHORS", "README.md"}},
		{"META-INF META-INF", []string{"META-INF", "META-INF"}},
		{"Main.class\tlaunch", []string{"Main.class", "launch"}},
	}
	for _, tt := range tests {
		if got := Parse(tt.query); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}
