package bake_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

func bakedPlugin(t *testing.T) *bake.Package {
	t.Helper()
	p, err := bake.BakePlugin(radiancePlugin())
	require.NoError(t, err)
	return bake.PluginPackage(p)
}

func bakeDaylightFactor(t *testing.T) (*schema.Recipe, *bake.Package) {
	t.Helper()
	plugin := bakedPlugin(t)
	baked, err := bake.Bake(daylightFactor(), map[string]*bake.Package{"honeybee-radiance": plugin})
	require.NoError(t, err)
	return baked, plugin
}

func TestBakePluginDigest(t *testing.T) {
	p, err := bake.BakePlugin(radiancePlugin())
	require.NoError(t, err)
	assert.True(t, digest.Valid(p.Digest))
	assert.Equal(t, schema.APIVersion, p.APIVersion)

	again, err := bake.BakePlugin(p)
	require.NoError(t, err)
	assert.Equal(t, p.Digest, again.Digest)
}

func TestBakePluginRejectsDuplicateFunction(t *testing.T) {
	p := radiancePlugin()
	p.Functions = append(p.Functions, p.Functions[0])
	_, err := bake.BakePlugin(p)
	require.ErrorIs(t, err, schema.ErrInvalidDocument)

	var bakeErr *bake.BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, bake.StageValidate, bakeErr.Stage)
}

func TestBakeDaylightFactor(t *testing.T) {
	baked, plugin := bakeDaylightFactor(t)

	assert.Len(t, baked.Digest, 64)
	assert.True(t, digest.Valid(baked.Digest))
	assert.Equal(t, schema.APIVersion, baked.APIVersion)

	names := make(map[string]bool)
	for _, doc := range baked.Templates {
		ns, _ := schema.SplitTemplateName(doc.TemplateName())
		assert.Equal(t, plugin.Digest, ns, "template %s", doc.TemplateName())
		names[doc.TemplateName()] = true
	}
	assert.Len(t, baked.Templates, 5)

	entry, ok := baked.Entry()
	require.True(t, ok)
	require.Len(t, entry.Tasks, 5)
	for _, task := range entry.Tasks {
		assert.True(t, names[task.Template], "task %s template %s", task.Name, task.Template)
		assert.True(t, strings.HasPrefix(task.Template, plugin.Digest+"/"))
	}

	tracing, _ := entry.Task("ray-tracing")
	assert.Equal(t, []string{"split-grid", "create-octree"}, tracing.Needs)
	octree, _ := entry.Task("create-octree")
	assert.Equal(t, []string{"generate-sky"}, octree.Needs)

	require.Len(t, baked.Dependencies, 1)
	assert.Equal(t, plugin.Digest, baked.Dependencies[0].Hash)
}

func TestBakeLeavesInputUntouched(t *testing.T) {
	recipe := daylightFactor()
	_, err := bake.Bake(recipe, map[string]*bake.Package{"honeybee-radiance": bakedPlugin(t)})
	require.NoError(t, err)
	assert.Equal(t, daylightFactor(), recipe)
}

func TestBakeIsIdempotent(t *testing.T) {
	baked, _ := bakeDaylightFactor(t)

	again, err := bake.Bake(baked, nil)
	require.NoError(t, err)
	assert.Equal(t, baked.Digest, again.Digest)
	assert.Equal(t, baked, again)
}

func TestBakeIsIdempotentThroughJSON(t *testing.T) {
	baked, _ := bakeDaylightFactor(t)

	data, err := json.Marshal(baked)
	require.NoError(t, err)
	var decoded schema.Recipe
	require.NoError(t, json.Unmarshal(data, &decoded))

	again, err := bake.Bake(&decoded, nil)
	require.NoError(t, err)
	assert.Equal(t, baked.Digest, again.Digest)

	reencoded, err := json.Marshal(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(reencoded))
}

func TestBakeDigestFollowsDependency(t *testing.T) {
	first, _ := bakeDaylightFactor(t)

	changed := radiancePlugin()
	changed.Functions[0].Command += " --cloudy"
	p, err := bake.BakePlugin(changed)
	require.NoError(t, err)
	second, err := bake.Bake(daylightFactor(), map[string]*bake.Package{"honeybee-radiance": bake.PluginPackage(p)})
	require.NoError(t, err)

	assert.NotEqual(t, first.Digest, second.Digest)
}

func TestRebakeAgainstNewerDependency(t *testing.T) {
	baked, p1 := bakeDaylightFactor(t)

	newer := radiancePlugin()
	newer.Metadata.Tag = "0.5.3"
	p, err := bake.BakePlugin(newer)
	require.NoError(t, err)
	p2 := bake.PluginPackage(p)
	require.NotEqual(t, p1.Digest, p2.Digest)
	deps := map[string]*bake.Package{"honeybee-radiance": p2}

	t.Run("pinned hash", func(t *testing.T) {
		_, err := bake.Bake(baked, deps)
		require.ErrorIs(t, err, schema.ErrDigestMismatch)
	})

	t.Run("cleared hash", func(t *testing.T) {
		cleared := baked.Clone()
		cleared.Dependencies[0].Hash = ""
		_, err := bake.Bake(cleared, deps)
		require.ErrorIs(t, err, schema.ErrInvalidDocument)

		var bakeErr *bake.BakeError
		require.True(t, errors.As(err, &bakeErr))
		assert.Equal(t, bake.StageResolve, bakeErr.Stage)

		cleared.Digest = ""
		_, err = bake.Bake(cleared, deps)
		require.ErrorIs(t, err, schema.ErrInvalidDocument)
	})

	t.Run("same package", func(t *testing.T) {
		again, err := bake.Bake(baked, map[string]*bake.Package{"honeybee-radiance": p1})
		require.NoError(t, err)
		assert.Equal(t, baked.Digest, again.Digest)
		assert.Len(t, again.Templates, 5)
	})

	t.Run("from source", func(t *testing.T) {
		fresh, err := bake.Bake(daylightFactor(), deps)
		require.NoError(t, err)
		assert.Equal(t, p2.Digest, fresh.Dependencies[0].Hash)
		assert.Len(t, fresh.Templates, 5)
		for _, doc := range fresh.Templates {
			ns, _ := schema.SplitTemplateName(doc.TemplateName())
			assert.Equal(t, p2.Digest, ns, "template %s", doc.TemplateName())
		}
		entry, _ := fresh.Entry()
		for _, task := range entry.Tasks {
			assert.True(t, strings.HasPrefix(task.Template, p2.Digest+"/"), "task %s", task.Name)
		}
	})
}

func TestBakeDropsUnusedTemplates(t *testing.T) {
	extra := radiancePlugin()
	extra.Functions = append(extra.Functions, schema.Function{
		Name:    "annual-sky",
		Command: "honeybee-radiance sky annual --name output.sky",
		Outputs: []schema.Output{{Name: "sky", Type: schema.TypeFile, Path: "output.sky"}},
	})
	p, err := bake.BakePlugin(extra)
	require.NoError(t, err)

	baked, err := bake.Bake(daylightFactor(), map[string]*bake.Package{"honeybee-radiance": bake.PluginPackage(p)})
	require.NoError(t, err)
	assert.Len(t, baked.Templates, 5)
	for _, doc := range baked.Templates {
		assert.False(t, strings.HasSuffix(doc.TemplateName(), "/annual-sky"))
	}
}

func TestBakePluginRejectsSlashInFunctionName(t *testing.T) {
	p := radiancePlugin()
	p.Functions[0].Name = "sky/generate"
	_, err := bake.BakePlugin(p)
	require.ErrorIs(t, err, schema.ErrInvalidDocument)
	assert.Contains(t, err.Error(), "contains '/'")
}

func TestBakeFailures(t *testing.T) {
	plugin := bakedPlugin(t)
	deps := map[string]*bake.Package{"honeybee-radiance": plugin}

	tests := []struct {
		name      string
		mutate    func(r *schema.Recipe)
		deps      map[string]*bake.Package
		wantErr   error
		wantStage bake.Stage
	}{
		{
			name:      "missing dependency package",
			mutate:    func(*schema.Recipe) {},
			deps:      map[string]*bake.Package{},
			wantErr:   schema.ErrDependencyNotFound,
			wantStage: bake.StageResolve,
		},
		{
			name:      "pinned hash disagrees",
			mutate:    func(r *schema.Recipe) { r.Dependencies[0].Hash = strings.Repeat("0", 64) },
			wantErr:   schema.ErrDigestMismatch,
			wantStage: bake.StageResolve,
		},
		{
			name:      "unknown template",
			mutate:    func(r *schema.Recipe) { r.Flow[0].Tasks[0].Template = "honeybee-radiance/generate-cloud" },
			wantErr:   schema.ErrTemplateNotFound,
			wantStage: bake.StageResolve,
		},
		{
			name:      "undeclared alias",
			mutate:    func(r *schema.Recipe) { r.Flow[0].Tasks[0].Template = "hr/generate-sky" },
			wantErr:   schema.ErrDependencyNotFound,
			wantStage: bake.StageResolve,
		},
		{
			name:      "no entry dag",
			mutate:    func(r *schema.Recipe) { r.Flow[0].Name = "daylight" },
			wantErr:   schema.ErrInvalidDocument,
			wantStage: bake.StageValidate,
		},
		{
			name: "dag name shadows dependency",
			mutate: func(r *schema.Recipe) {
				r.Flow = append(r.Flow, schema.DAG{Name: "honeybee-radiance"})
			},
			wantErr:   schema.ErrInvalidDocument,
			wantStage: bake.StageValidate,
		},
		{
			name: "dag name with slash",
			mutate: func(r *schema.Recipe) {
				r.Flow = append(r.Flow, schema.DAG{Name: "sky/extra"})
			},
			wantErr:   schema.ErrInvalidDocument,
			wantStage: bake.StageValidate,
		},
		{
			name: "task cycle",
			mutate: func(r *schema.Recipe) {
				r.Flow[0].Tasks[0].Needs = []string{"post-process"}
			},
			wantErr:   schema.ErrGraphCycle,
			wantStage: bake.StageValidate,
		},
		{
			name: "undeclared input",
			mutate: func(r *schema.Recipe) {
				r.Flow[0].Tasks[1].Arguments[1].From = schema.NewRef(schema.InputReference{Variable: "not-declared"})
			},
			wantErr:   schema.ErrReference,
			wantStage: bake.StageValidate,
		},
		{
			name: "required template input unbound",
			mutate: func(r *schema.Recipe) {
				r.Flow[0].Tasks[2].Arguments = r.Flow[0].Tasks[2].Arguments[:1]
			},
			wantErr:   schema.ErrTemplateMismatch,
			wantStage: bake.StageValidate,
		},
		{
			name: "nested dag cycle",
			mutate: func(r *schema.Recipe) {
				r.Flow = append(r.Flow, schema.DAG{
					Name:  "loop-back",
					Tasks: []schema.Task{{Name: "again", Template: "main"}},
				})
				r.Flow[0].Tasks = append(r.Flow[0].Tasks, schema.Task{Name: "nested", Template: "loop-back"})
			},
			wantErr:   schema.ErrGraphCycle,
			wantStage: bake.StageValidate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recipe := daylightFactor()
			tt.mutate(recipe)
			d := deps
			if tt.deps != nil {
				d = tt.deps
			}
			baked, err := bake.Bake(recipe, d)
			assert.Nil(t, baked)
			require.ErrorIs(t, err, tt.wantErr)

			var bakeErr *bake.BakeError
			require.True(t, errors.As(err, &bakeErr))
			assert.Equal(t, tt.wantStage, bakeErr.Stage)
			assert.Equal(t, "daylight-factor", bakeErr.Package)
		})
	}
}

func TestBakeNestedRecipeDependency(t *testing.T) {
	df, plugin := bakeDaylightFactor(t)
	dfPkg := bake.RecipePackage(df)

	baked, err := bake.Bake(annualStudy(), map[string]*bake.Package{
		"df":                dfPkg,
		"honeybee-radiance": plugin,
	})
	require.NoError(t, err)

	byName := make(map[string]schema.Template)
	for _, doc := range baked.Templates {
		byName[doc.TemplateName()] = doc.Template
	}
	// five plugin functions plus the daylight-factor entry dag, each once
	assert.Len(t, byName, 6)
	assert.Len(t, baked.Templates, 6)

	exported, ok := byName[df.Digest+"/main"].(*schema.DAG)
	require.True(t, ok)
	for _, task := range exported.Tasks {
		_, found := byName[task.Template]
		assert.True(t, found, "nested task %s template %s", task.Name, task.Template)
	}

	entry, _ := baked.Entry()
	daylight, _ := entry.Task("daylight")
	assert.Equal(t, df.Digest+"/main", daylight.Template)

	again, err := bake.Bake(baked, nil)
	require.NoError(t, err)
	assert.Equal(t, baked.Digest, again.Digest)
}

func TestLintToleratesMissingDependency(t *testing.T) {
	assert.NoError(t, bake.Lint(daylightFactor(), nil))

	broken := daylightFactor()
	broken.Flow[0].Tasks[3].Loop = nil
	err := bake.Lint(broken, nil)
	assert.ErrorIs(t, err, schema.ErrReference)
}

func TestPackageVerify(t *testing.T) {
	baked, plugin := bakeDaylightFactor(t)
	require.NoError(t, plugin.Verify())
	require.NoError(t, bake.RecipePackage(baked).Verify())

	tampered := *baked
	tampered.Metadata.Tag = "9.9.9"
	assert.ErrorIs(t, bake.RecipePackage(&tampered).Verify(), schema.ErrDigestMismatch)
}
