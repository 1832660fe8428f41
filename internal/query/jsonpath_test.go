package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/internal/tree"
)

func TestSelect(t *testing.T) {
	input := `
{
  "model": {
    "tables": [
      {"name": "Sales", "measures": [{"name": "Revenue", "expression": "SUM(Sales[Amount])"}]},
      {"name": "Date"}
    ],
    "culture": "en-US"
  }
}
`
	data, err := tree.ParseJSON([]byte(input))
	require.NoError(t, err)

	t.Run("select list of objects", func(t *testing.T) {
		matches, err := Select(data, "$.model.tables[*]")
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "Date", matches[1].Values()["name"])
	})

	t.Run("select primitive", func(t *testing.T) {
		matches, err := Select(data, "$.model.culture")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, map[string]any{"value": "en-US"}, matches[0].Values())
		assert.Equal(t, tree.String("en-US"), matches[0].Tree())
	})

	t.Run("strings across nesting", func(t *testing.T) {
		names, err := Strings(data, "$.model.tables[*].measures[*].name")
		require.NoError(t, err)
		assert.Equal(t, []string{"Revenue"}, names)
	})

	t.Run("invalid selector", func(t *testing.T) {
		_, err := Select(data, "$.model.tables[?(@.name ==")
		assert.Error(t, err)
	})
}
