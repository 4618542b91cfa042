package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin header", "", []string{"https://party.example"}, true},
		{"empty allow list", "https://evil.example", nil, true},
		{"wildcard", "https://evil.example", []string{"*"}, true},
		{"exact match", "https://party.example", []string{"https://party.example"}, true},
		{"hostname match, other port", "https://party.example:8443", []string{"https://party.example"}, true},
		{"no match", "https://evil.example", []string{"https://party.example"}, false},
		{"garbage origin", "::bad::", []string{"https://party.example"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, originAllowed(tt.origin, tt.allowed))
		})
	}
}
