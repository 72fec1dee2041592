package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "http://host/a/b", Join("http://host/", "a/", "b"))
	assert.Equal(t, "http://host/a/b/", Join("http://host", "a", "b/"))
	assert.Equal(t, "single/", Join("single/"))
}

func TestRoutes(t *testing.T) {
	api := "https://cover.example.com/api/"
	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"version", func() (string, error) { return Version(api) }, "https://cover.example.com/api/version"},
		{"default settings", func() (string, error) { return DefaultSettings(api) }, "https://cover.example.com/api/default-settings"},
		{"start", func() (string, error) { return Start(api) }, "https://cover.example.com/api/analysis"},
		{"results", func() (string, error) { return Results(api, "id1") }, "https://cover.example.com/api/analysis/id1"},
		{"status", func() (string, error) { return Status(api, "id1") }, "https://cover.example.com/api/analysis/id1/status"},
		{"cancel", func() (string, error) { return Cancel(api, "id1") }, "https://cover.example.com/api/analysis/id1/cancel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoutesRejectEmptyParams(t *testing.T) {
	_, err := Version("")
	assert.ErrorIs(t, err, ErrEmptyParam)

	_, err = Status("http://host", "")
	assert.ErrorIs(t, err, ErrEmptyParam)
}
