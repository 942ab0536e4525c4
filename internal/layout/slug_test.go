package layout

import "testing"

func TestNormalizeSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"home", "home"},
		{" Home ", "home"},
		{"About Us", "about-us"},
		{"about--us", "about-us"},
		{"/pricing/", "pricing"},
		{"Café Crème", "cafe-creme"},
		{"2024 Launch!", "2024-launch"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeSlug(tt.in); got != tt.want {
				t.Errorf("NormalizeSlug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
