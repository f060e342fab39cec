package spschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Shape(t *testing.T) {
	catalog := Catalog()

	keys := make(map[string]bool)
	for _, def := range catalog {
		assert.NotEmpty(t, def.Key)
		assert.NotEmpty(t, def.Title)
		assert.Equal(t, genericListTemplate, def.Template)
		assert.False(t, keys[def.Key], "duplicate key %s", def.Key)
		keys[def.Key] = true

		for _, f := range def.Fields {
			assert.NotEmpty(t, f.Name, "%s field missing name", def.Key)
			assert.NotEmpty(t, f.Type, "%s/%s missing type", def.Key, f.Name)
			assert.Contains(t, f.SchemaXML, `Name="`+f.Name+`"`)
			assert.Contains(t, f.SchemaXML, `Type="`+f.Type+`"`)
		}
	}

	for _, key := range []string{"projects", "milestones", "categories", "statuses", "settings"} {
		assert.True(t, keys[key], "catalog missing %s", key)
	}
}

func TestAllowedTitles_IncludesAliases(t *testing.T) {
	titles := AllowedTitles(Catalog())

	assert.Contains(t, titles, "Roadmap Projects")
	assert.Contains(t, titles, "RoadmapProjects")
	assert.Contains(t, titles, "Swimlanes", "legacy alias admitted for reads")

	require.NotEmpty(t, titles)
	seen := map[string]bool{}
	for _, title := range titles {
		assert.False(t, seen[title], "duplicate title %s", title)
		seen[title] = true
	}
}
