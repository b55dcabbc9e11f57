package discovery

import (
	"errors"
	"testing"
)

func TestResolveURL(t *testing.T) {
	lookup := func(name string) (string, error) {
		if name == "exam-service" {
			return "10.0.0.5:8050", nil
		}
		return "", errors.New("no healthy instances")
	}

	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"consul://exam-service/api/v1", "http://10.0.0.5:8050/api/v1", false},
		{"http://localhost:8050/api/v1", "http://localhost:8050/api/v1", false},
		{"consul://missing/api", "", true},
	}
	for _, tc := range cases {
		got, err := resolveURL(tc.raw, lookup)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.raw, got, tc.want)
		}
	}
}
