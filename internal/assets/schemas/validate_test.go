package schemasassets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantPaths []string
	}{
		{
			name: "valid",
			body: `{"adminKey":"ab12:cd34","apiUrl":"https://demo.ghost.io","textToReplace":"foo","replacementText":"bar"}`,
		},
		{
			name: "empty replacement allowed",
			body: `{"adminKey":"ab12:cd34","apiUrl":"https://demo.ghost.io","textToReplace":"foo","replacementText":""}`,
		},
		{
			name:      "missing fields",
			body:      `{"apiUrl":"https://demo.ghost.io"}`,
			wantPaths: []string{""},
		},
		{
			name:      "empty target",
			body:      `{"adminKey":"ab12:cd34","apiUrl":"https://demo.ghost.io","textToReplace":"","replacementText":"bar"}`,
			wantPaths: []string{"/textToReplace"},
		},
		{
			name:      "malformed key and url",
			body:      `{"adminKey":"nope","apiUrl":"ftp://x","textToReplace":"foo","replacementText":"bar"}`,
			wantPaths: []string{"/adminKey", "/apiUrl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := ReplaceRequest.ValidateJSON([]byte(tt.body))
			require.NoError(t, err)

			var paths []string
			for _, is := range issues {
				paths = append(paths, is.Path)
				assert.NotEmpty(t, is.Message)
			}
			assert.Equal(t, tt.wantPaths, paths)
		})
	}
}

func TestReplaceRequest_NotJSON(t *testing.T) {
	_, err := ReplaceRequest.ValidateJSON([]byte("{"))
	assert.Error(t, err)
}

func TestSchema_Empty(t *testing.T) {
	s := &Schema{name: "empty.json"}
	_, err := s.Validate(map[string]any{})
	assert.ErrorIs(t, err, ErrSchemaEmpty)
}
