package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

func TestLoadEnvironments(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "json",
			file:    "environments.json",
			content: `[{"environmentId":"staging","name":"Staging","secrets":{"apiKey":"","password":""}}]`,
		},
		{
			name: "yaml",
			file: "environments.yaml",
			content: `
- environmentId: staging
  name: Staging
  secrets:
    apiKey: ""
    password: ""
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environments, err := LoadEnvironments(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			env, err := environments.Get(t.Context(), "staging")
			require.NoError(t, err)
			assert.Equal(t, "Staging", env.Name)
			assert.Equal(t, []string{"apiKey", "password"}, env.SecretKeys())
		})
	}
}

func TestLoadEnvironments_Errors(t *testing.T) {
	_, err := LoadEnvironments(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadEnvironments(writeFile(t, "broken.json", `{"environmentId":`))
	require.Error(t, err)

	_, err = LoadEnvironments(writeFile(t, "anonymous.json", `[{"name":"No id"}]`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEnvironments_GetAndPut(t *testing.T) {
	environments := NewEnvironments()

	_, err := environments.Get(t.Context(), "staging")
	assert.ErrorIs(t, err, ErrEnvironmentNotFound)

	environments.Put(&models.Environment{EnvironmentID: "staging", Name: "Staging"})

	env, err := environments.Get(t.Context(), "staging")
	require.NoError(t, err)
	assert.Equal(t, "Staging", env.Name)
	assert.Empty(t, env.SecretKeys())
}
