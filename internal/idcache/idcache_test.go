package idcache

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/tree"
)

const (
	guidA = "6f1d7c0e-0a3b-4c9e-9a57-3c1f0d2e4b11"
	guidB = "a2c4e6f8-1b3d-4f5a-8c7e-9d0b1a2c3e4f"
	guidC = "0b5e2a7c-9d14-4e63-b8f2-71c3a9e5d640"
)

func TestCache_StableAcrossSessions(t *testing.T) {
	previous := map[string]string{"Revenue": guidA, "Retired": guidC}
	current := map[string]string{"Revenue": guidB, "Brand New": guidC}

	c := New(current, previous)

	assert.Equal(t, guidA, c.LookupOriginalID(guidB), "known key keeps its first identifier")
	assert.Equal(t, guidC, c.LookupOriginalID(guidC), "new key keeps its own identifier")
	assert.Equal(t, "unrelated", c.LookupOriginalID("unrelated"))

	assert.Equal(t, map[string]string{"Revenue": guidA, "Brand New": guidC}, c.Entries())
	_, stillThere := c.Entries()["Retired"]
	assert.False(t, stillThere, "keys absent from the current pass are dropped")
}

func TestCache_NilIsIdentity(t *testing.T) {
	var c *Cache
	assert.Equal(t, guidA, c.LookupOriginalID(guidA))
}

func TestConnectionProperty(t *testing.T) {
	conn := `Provider=Microsoft.PowerBI.OleDb;Global Pipe=abc;Mashup="x;y";Location="Sales ""Q1""";`
	assert.Equal(t, `Sales "Q1"`, ConnectionProperty(conn, "location"))
	assert.Equal(t, "x;y", ConnectionProperty(conn, "Mashup"))
	assert.Equal(t, "Microsoft.PowerBI.OleDb", ConnectionProperty(conn, "Provider"))
	assert.Equal(t, "", ConnectionProperty(conn, "Missing"))
}

func TestFromModel(t *testing.T) {
	model, err := tree.ParseJSON([]byte(`{
  "model": {
    "dataSources": [
      {"name": "` + guidA + `", "connectionString": "Provider=Microsoft.PowerBI.OleDb;Location=Revenue"},
      {"name": "SqlServer localhost", "connectionString": "Data Source=localhost;Location=Stable"},
      {"name": "` + guidB + `"}
    ]
  }
}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Revenue": guidA}, FromModel(model))
	assert.Empty(t, FromModel(tree.String("not a model")))
}

func TestLoadSave(t *testing.T) {
	folder := project.New(memfs.New(), nil).Folder().Sub("Model")

	assert.Empty(t, Load(folder, nil), "missing file is an empty cache")

	c := New(map[string]string{"Revenue": guidB}, map[string]string{"Revenue": guidA})
	require.NoError(t, c.Save(folder))
	assert.Equal(t, map[string]string{"Revenue": guidA}, Load(folder, nil))

	require.NoError(t, folder.WriteText(FileName, "{corrupt"))
	assert.Empty(t, Load(folder, nil), "corrupt file is an empty cache")

	require.NoError(t, folder.WriteText(FileName, `["wrong shape"]`))
	assert.Empty(t, Load(folder, nil))
}

func TestCache_Rewrite(t *testing.T) {
	model, err := tree.ParseJSON([]byte(`{"model":{
  "dataSources":[{"name":"` + guidB + `","connectionString":"Location=Revenue"}],
  "tables":[{"name":"Sales","partitions":[{"name":"p","source":{"type":"query","dataSource":"` + guidB + `"}}]}]
}}`))
	require.NoError(t, err)

	c := New(FromModel(model), map[string]string{"Revenue": guidA})
	got := c.Rewrite(model)

	name, _ := tree.Lookup(got, "model")
	assert.Contains(t, string(tree.Marshal(name)), `"name":"`+guidA+`"`)
	assert.Contains(t, string(tree.Marshal(name)), `"dataSource":"`+guidA+`"`)
	assert.NotContains(t, string(tree.Marshal(got)), guidB)
	assert.Contains(t, string(tree.Marshal(model)), guidB, "input is not modified")
}
