package docker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/lattice/internal/model"
)

func TestBuildLabels(t *testing.T) {
	cell := &model.Cell{
		Version: "3.12",
		Env:     model.EnvRow{{Name: "DJANGO", Value: "5.0"}},
	}

	labels := BuildLabels("run-123", "python", cell)

	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, "run-123", labels[LabelRunID])
	assert.Equal(t, "3.12/DJANGO=5.0", labels[LabelCell])
	assert.Equal(t, "python", labels[LabelLanguage])
	assert.Equal(t, "3.12", labels[LabelVersion])

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), createdAt, time.Minute)
}

func TestImageFor(t *testing.T) {
	tests := []struct {
		name     string
		language string
		images   map[string]string
		version  string
		expected string
	}{
		{
			name:     "language and version",
			language: "python",
			version:  "3.12",
			expected: "python:3.12",
		},
		{
			name:     "go maps to golang",
			language: "go",
			version:  "1.22",
			expected: "golang:1.22",
		},
		{
			name:     "node_js maps to node",
			language: "node_js",
			version:  "20",
			expected: "node:20",
		},
		{
			name:     "explicit override wins",
			language: "python",
			images:   map[string]string{"3.13-dev": "python:3.13-rc-slim"},
			version:  "3.13-dev",
			expected: "python:3.13-rc-slim",
		},
		{
			name:     "override for other version ignored",
			language: "python",
			images:   map[string]string{"3.13-dev": "python:3.13-rc-slim"},
			version:  "3.12",
			expected: "python:3.12",
		},
		{
			name:     "no version falls back to latest",
			language: "python",
			version:  "",
			expected: "python:latest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &model.Config{Language: tt.language, Images: tt.images}
			cell := &model.Cell{Version: tt.version}
			assert.Equal(t, tt.expected, ImageFor(cfg, cell))
		})
	}
}
