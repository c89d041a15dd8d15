package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNameFromEmail(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		first string
		last  string
	}{
		{
			name:  "dotted local part",
			addr:  "ana.soares@mail.com",
			first: "Ana",
			last:  "Soares",
		},
		{
			name:  "single word",
			addr:  "sam@mail.com",
			first: "Sam",
			last:  "Guest",
		},
		{
			name:  "underscores and hyphens",
			addr:  "mary_jane-watson@mail.com",
			first: "Mary",
			last:  "Watson",
		},
		{
			name:  "plus tag is ignored",
			addr:  "ana.soares+booking@mail.com",
			first: "Ana",
			last:  "Soares",
		},
		{
			name:  "capitalizes lowercase input",
			addr:  "joão@mail.com",
			first: "João",
			last:  "Guest",
		},
		{
			name:  "no at sign still parses",
			addr:  "ana.soares",
			first: "Ana",
			last:  "Soares",
		},
		{
			name:  "empty local part",
			addr:  "@mail.com",
			first: "Guest",
			last:  "Guest",
		},
		{
			name:  "empty address",
			addr:  "",
			first: "Guest",
			last:  "Guest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := DeriveNameFromEmail(tt.addr)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "full name", addr: "ana.soares@mail.com", want: "Ana Soares"},
		{name: "first name only", addr: "sam@mail.com", want: "Sam"},
		{name: "nothing usable", addr: "@mail.com", want: "Guest"},
		{name: "empty address", addr: "", want: "Guest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.addr))
		})
	}
}
