package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/srcforge/pkg/orchestrator"
	"github.com/Sumatoshi-tech/srcforge/pkg/srcdiff"
)

func validate(t *testing.T, schema *Schema, doc any) *gojsonschema.Result {
	t.Helper()

	schemaData, err := json.Marshal(schema)
	require.NoError(t, err)

	docData, err := json.Marshal(doc)
	require.NoError(t, err)

	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaData), gojsonschema.NewBytesLoader(docData))
	require.NoError(t, err)

	return res
}

func TestGenerateSchema_DecompileReport(t *testing.T) {
	t.Parallel()

	schema := generateSchema("decompile", &orchestrator.Result{})

	assert.Equal(t, "string", schema.Properties["state"].Type)
	assert.Equal(t, "integer", schema.Properties["duration"].Type)
	assert.NotContains(t, schema.Required, "linemap")
	assert.Contains(t, schema.Required, "units")

	res := validate(t, schema, orchestrator.Result{
		State:      orchestrator.Completed,
		Isolation:  orchestrator.IsolatedProcess,
		Decompiler: "outline",
		Input:      "in.jar",
		Sources:    "in-sources.jar",
		Units:      3,
		Duration:   time.Second,
	})
	assert.True(t, res.Valid(), "%v", res.Errors())
}

func TestGenerateSchema_DiffReport(t *testing.T) {
	t.Parallel()

	schema := generateSchema("diff", &srcdiff.Report{})
	require.Contains(t, schema.Definitions, "FileDiff")
	assert.Equal(t, "#/definitions/FileDiff", schema.Properties["files"].Items.Ref)

	res := validate(t, schema, srcdiff.Report{
		Files:    []srcdiff.FileDiff{{Path: "foo/Bar.java", Status: srcdiff.Modified, Inserted: 1, Deleted: 1}},
		Modified: 1,
	})
	assert.True(t, res.Valid(), "%v", res.Errors())

	bad := validate(t, schema, map[string]any{"files": "nope"})
	assert.False(t, bad.Valid())
}

func TestRun(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "schemas")
	require.NoError(t, run(dir))

	for name := range reports() {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		require.NoError(t, err)

		var schema Schema
		require.NoError(t, json.Unmarshal(data, &schema))
		assert.Equal(t, "object", schema.Type)
	}
}
