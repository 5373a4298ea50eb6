package tokenstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:7777", "http://localhost:7777"},
		{"http://localhost:7777/api/", "http://localhost:7777"},
		{"HTTPS://Files.Example.COM", "https://files.example.com"},
		{"https://files.example.com:443/x", "https://files.example.com"},
		{"http://files.example.com:80", "http://files.example.com"},
		{"http://[::1]:8080", "http://[::1]:8080"},
		{"http://[::1]", "http://[::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Origin(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrigin_Invalid(t *testing.T) {
	for _, in := range []string{"ftp://example.com", "localhost:7777", "http://", "://bad"} {
		t.Run(in, func(t *testing.T) {
			_, err := Origin(in)
			assert.Error(t, err)
		})
	}
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "https_files.example.com", fileSafe("https://files.example.com"))
	assert.Equal(t, "http___1_8080", fileSafe("http://[::1]:8080"))
}
