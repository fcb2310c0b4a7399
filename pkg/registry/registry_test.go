// pkg/registry/registry_test.go
package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/common/validation"
)

func TestDefault(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	for _, task := range []string{"verify-tenant", "validate-compliance", "request-signatures", "check-expiration", "send-notification"} {
		a, ok := reg.Find(task)
		require.True(t, ok, task)
		assert.Positive(t, a.TimeoutDuration(0), task)
		assert.NotEmpty(t, a.Component, task)

		schema, err := a.InputSchemaJSON()
		require.NoError(t, err)
		assert.NotEmpty(t, schema, task)
	}

	_, ok := reg.Find("auth-signin-google")
	assert.False(t, ok)
}

func TestInputSchemas(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	tests := []struct {
		task  string
		input string
		valid bool
	}{
		{"request-signatures", `{"documentId":"d","signers":[{"signerId":"t","role":"tenant"}]}`, true},
		{"request-signatures", `{"documentId":"d","signers":[]}`, false},
		{"request-signatures", `{"documentId":"d","signers":[{"signerId":"t","role":"witness"}]}`, false},
		{"verify-tenant", `{"stepId":"s","subject":{"firstName":"A","lastName":"B"}}`, true},
		{"verify-tenant", `{"stepId":"s","subject":{"firstName":"A","lastName":"B","ssnLast4":"12a4"}}`, false},
		{"send-notification", `{"recipientId":"u","notificationType":"document_renewed"}`, true},
		{"send-notification", `{"notificationType":"document_renewed"}`, false},
		{"check-expiration", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			a, ok := reg.Find(tt.task)
			require.True(t, ok)
			schema, err := a.InputSchemaJSON()
			require.NoError(t, err)

			res, err := validation.ValidateJSON(schema, []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.Summary())
		})
	}
}

func TestLoadRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"duplicate id", `{"activities":[{"id":"a","taskType":"x"},{"id":"a","taskType":"y"}]}`},
		{"duplicate task", `{"activities":[{"id":"a","taskType":"x"},{"id":"b","taskType":"x"}]}`},
		{"missing task", `{"activities":[{"id":"a"}]}`},
		{"bad timeout", `{"activities":[{"id":"a","taskType":"x","timeout":"soon"}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "registry.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadRegistry(path)
			assert.Error(t, err)
		})
	}
}

func TestTimeoutDuration(t *testing.T) {
	a := Activity{Timeout: "90s"}
	assert.Equal(t, 90*time.Second, a.TimeoutDuration(time.Second))
	a.Timeout = ""
	assert.Equal(t, time.Second, a.TimeoutDuration(time.Second))
}
