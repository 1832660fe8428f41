package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/internal/tree"
)

const modelJSON = `{
  "name": "db",
  "model": {
    "tables": [
      {
        "name": "Sales",
        "columns": [
          {"name": "Amount", "dataType": "decimal"},
          {"name": "Net", "type": "calculated", "expression": "Sales[Amount] - Sales[Tax]"}
        ],
        "measures": [
          {"name": "Total", "expression": "SUM('Sales'[Amount])"},
          {"name": "Double", "expression": ["[Total]", "  * 2"]}
        ],
        "partitions": [
          {"name": "Sales-1", "source": {"type": "m", "expression": ["let", "  Source = Sql{[Item=\"dbo\"]}", "in", "  Source"]}}
        ]
      },
      {
        "name": "Calc",
        "partitions": [
          {"name": "Calc", "source": {"type": "calculated", "expression": "CALENDAR(DATE(2020,1,1), TODAY())"}}
        ]
      }
    ],
    "expressions": [{"name": "Server", "expression": "\"localhost\""}],
    "roles": [
      {"name": "Reader", "tablePermissions": [{"name": "Sales", "filterExpression": "Sales[Amount] > 0"}]}
    ],
    "relationships": [{"name": "r1", "fromTable": "Sales", "toTable": "Calc"}]
  }
}`

const reportJSON = `{
  "sections": [
    {"name": "ReportSection", "displayName": "Overview", "visualContainers": [
      {"config": "{\"name\":\"abc123\"}", "x": 1},
      {"id": 7}
    ]},
    {"name": "ReportSection2"}
  ]
}`

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"Sales[Amount]", "[Total]", "O'Brien[x]"},
		References(`SUM('Sales'[Amount]) + [Total] + Sales[Amount] + 'O''Brien'[x]`))
	assert.Empty(t, References(`1 + 2`))
}

func buildCatalog(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	w, err := Create(dbPath, nil)
	require.NoError(t, err)

	model, err := tree.ParseJSON([]byte(modelJSON))
	require.NoError(t, err)
	n, err := IndexModel(w, model)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	report, err := tree.ParseJSON([]byte(reportJSON))
	require.NoError(t, err)
	n, err = IndexReport(w, report)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, w.Close())
	return dbPath
}

func TestCatalog_Model(t *testing.T) {
	c, err := Open(buildCatalog(t))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	measures, err := c.Objects("measure")
	require.NoError(t, err)
	require.Len(t, measures, 2)
	assert.Equal(t, "tables/Sales/measures/Double", measures[0].ID)
	assert.Equal(t, "[Total]\n  * 2", measures[0].Expression)
	assert.Equal(t, "tables/Sales", measures[0].ParentID)
	assert.Equal(t, "Sales", measures[1].Table)

	refs, err := c.Referencing("Sales[Amount]")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"roles/Reader/tablePermissions/Sales",
		"tables/Sales/columns/Net",
		"tables/Sales/measures/Total",
	}, refs)

	refs, err = c.Referencing("[Total]")
	require.NoError(t, err)
	assert.Equal(t, []string{"tables/Sales/measures/Double"}, refs)

	// M partitions are not scanned for DAX references; calculated ones are.
	refs, err = c.Referencing(`[Item="dbo"]`)
	require.NoError(t, err)
	assert.Empty(t, refs)

	counts, err := c.Counts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"table": 2, "column": 2, "measure": 2, "partition": 2, "expression": 1,
		"role": 1, "tablePermission": 1, "relationship": 1, "page": 2, "visual": 2,
	}, counts)
}

func TestCatalog_Report(t *testing.T) {
	c, err := Open(buildCatalog(t))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	pages, err := c.Objects("page")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Overview", pages[0].Name)
	assert.Equal(t, "ReportSection2", pages[1].Name)

	visuals, err := c.Objects("visual")
	require.NoError(t, err)
	require.Len(t, visuals, 2)
	assert.Equal(t, "pages/000/visuals/00000", visuals[0].ID)
	assert.Equal(t, "abc123", visuals[0].Name)
	assert.Equal(t, "7", visuals[1].Name)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}
