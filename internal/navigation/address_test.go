package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: BlankPage},
		{name: "whitespace", input: "   ", want: BlankPage},
		{name: "bare host", input: "example.com", want: "https://example.com"},
		{name: "host and path", input: "example.com/a?b=1", want: "https://example.com/a?b=1"},
		{name: "scheme relative", input: "//example.com", want: "https://example.com"},
		{name: "http kept", input: "http://example.com", want: "http://example.com"},
		{name: "scheme lowercased", input: "HTTPS://example.com/x", want: "https://example.com/x"},
		{name: "host with port", input: "localhost:8080", want: "https://localhost:8080"},
		{name: "about", input: "about:blank", want: "about:blank"},
		{name: "data", input: "data:text/html,<p>hi</p>", want: "data:text/html,<p>hi</p>"},
		{name: "file", input: "file:///tmp/a.html", want: "file:///tmp/a.html"},
		{name: "missing host", input: "https://", wantErr: true},
		{name: "space in host", input: "exa mple.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplayHost(t *testing.T) {
	assert.Equal(t, "example.com", displayHost("https://example.com:443/path"))
	assert.Equal(t, "about:blank", displayHost("about:blank"))
}
