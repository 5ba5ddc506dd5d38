package llmutil

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Scene  string         `json:"scene"`
	Extras map[string]any `json:"extras"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"should parse bare JSON", `{"scene":"A hall."}`, "A hall."},
		{"should parse a fenced block", "```json\n{\"scene\":\"A hall.\"}\n```", "A hall."},
		{"should parse an untagged fence", "```\n{\"scene\":\"A hall.\"}\n```", "A hall."},
		{"should parse JSON inside chatter", "Sure! Here it is: {\"scene\":\"A hall.\"} Enjoy.", "A hall."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONResponse[reply](tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Scene)
		})
	}

	t.Run("should parse arrays", func(t *testing.T) {
		got, err := ParseJSONResponse[[]string]("Options:\n[\"run\", \"hide\"]")
		require.NoError(t, err)
		assert.Equal(t, []string{"run", "hide"}, *got)
	})

	t.Run("should keep integers as json numbers", func(t *testing.T) {
		got, err := ParseJSONResponse[reply](`{"extras":{"tension":2}}`)
		require.NoError(t, err)
		assert.Equal(t, json.Number("2"), got.Extras["tension"])
	})

	t.Run("should report malformed JSON with a snippet", func(t *testing.T) {
		_, err := ParseJSONResponse[reply](`{"scene": `)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Extracted JSON")
	})
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "The rain stops.", CleanText("```\nThe rain stops.\n```"))
	assert.Equal(t, "The rain stops.", CleanText(`  "The rain stops."  `))
	assert.Equal(t, "plain", CleanText("plain"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "", truncateString("abc", 0))
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abc", 2))
	assert.Equal(t, strings.Repeat("é", 3)+"...", truncateString(strings.Repeat("é", 10), 3))
}
