package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		call    Call
		wantErr bool
	}{
		{"search ok", Call{ID: "c1", Kind: KindSearch, Pattern: "foo"}, false},
		{"search missing pattern", Call{ID: "c1", Kind: KindSearch}, true},
		{"read ok", Call{ID: "c2", Kind: KindRead, Path: "a.go"}, false},
		{"read missing path", Call{ID: "c2", Kind: KindRead}, true},
		{"write ok", Call{ID: "c3", Kind: KindWrite, Path: "a.go", Content: ""}, false},
		{"write missing path", Call{ID: "c3", Kind: KindWrite, Content: "x"}, true},
		{"shell ok", Call{ID: "c4", Kind: KindShell, Command: "echo hi"}, false},
		{"shell blank command", Call{ID: "c4", Kind: KindShell, Command: "   "}, true},
		{"unknown kind", Call{ID: "c5", Kind: "exec"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCallsBareArray(t *testing.T) {
	calls, err := ParseCalls(`[{"kind":"read","path":"main.go"},{"kind":"shell","command":"go vet"}]`)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, KindRead, calls[0].Kind)
	assert.Equal(t, "call-2", calls[1].ID)
	assert.Equal(t, "go vet", calls[1].Command)
}

func TestParseCallsFenced(t *testing.T) {
	response := "I'll read the file first.\n```json\n[{\"id\":\"read-main\",\"kind\":\"read\",\"path\":\"main.go\"}]\n```\n"
	calls, err := ParseCalls(response)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "read-main", calls[0].ID)
}

func TestParseCallsRejectsInvalid(t *testing.T) {
	_, err := ParseCalls("no calls here")
	assert.Error(t, err)

	_, err = ParseCalls(`[{"kind":"read"}]`)
	assert.Error(t, err)

	_, err = ParseCalls(`[{"kind":"launch","command":"x"}]`)
	assert.Error(t, err)
}
