package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func toMap(t *testing.T, body any) map[string]any {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	return decoded
}
