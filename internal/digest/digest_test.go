package digest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

func sampleDAG() *schema.DAG {
	return &schema.DAG{
		Name:     "daylight-factor",
		FailFast: true,
		Inputs: []schema.Input{
			{Name: "model", Type: schema.TypeFolder},
			{Name: "grid-count", Type: schema.TypeInteger, Default: 10},
		},
		Tasks: []schema.Task{
			{Name: "generate-sky", Template: "aa/generate-sky"},
			{Name: "split-grid", Template: "aa/split-grid", Needs: []string{"generate-sky"}},
		},
	}
}

func mustDigest(t *testing.T, v any) string {
	t.Helper()
	d, err := Digest(v)
	require.NoError(t, err)
	return d
}

func TestDigestIsHex(t *testing.T) {
	d := mustDigest(t, sampleDAG())
	assert.Len(t, d, Size)
	assert.True(t, Valid(d))
	assert.False(t, Valid("blake3:"+d[:57]))
	assert.False(t, Valid(strings.Repeat("z", Size)))
}

func TestDigestIgnoresDocumentationAndNulls(t *testing.T) {
	plain := sampleDAG()
	documented := sampleDAG()
	documented.Description = "Daylight factor for sensor grids."
	documented.Annotations = map[string]any{"owner": "ladybug-tools"}
	documented.Inputs[0].Description = "A Honeybee model folder."
	documented.Tasks[0].Annotations = map[string]any{"note": "sky first"}

	assert.Equal(t, mustDigest(t, plain), mustDigest(t, documented))
	assert.Equal(t,
		mustDigest(t, map[string]any{"a": 1, "b": nil, "c": []any{}}),
		mustDigest(t, map[string]any{"a": 1}))
	assert.NotEqual(t,
		mustDigest(t, map[string]any{"a": 1, "d": map[string]any{}}),
		mustDigest(t, map[string]any{"a": 1}))
}

func TestPluginDigestSeesEmptyLocalConfig(t *testing.T) {
	plugin := func(config schema.PluginConfig) *schema.Plugin {
		return &schema.Plugin{
			Metadata:  schema.Metadata{Name: "honeybee-radiance", Tag: "0.5.2"},
			Config:    config,
			Functions: []schema.Function{{Name: "split-grid", Command: "honeybee-radiance grid split"}},
		}
	}
	bare := plugin(schema.PluginConfig{})
	local := plugin(schema.PluginConfig{Local: &schema.LocalConfig{}})
	documented := plugin(schema.PluginConfig{Local: &schema.LocalConfig{Annotations: map[string]any{"note": "host"}}})

	bareDigest, err := Plugin(bare)
	require.NoError(t, err)
	localDigest, err := Plugin(local)
	require.NoError(t, err)
	documentedDigest, err := Plugin(documented)
	require.NoError(t, err)

	assert.NotEqual(t, bareDigest, localDigest)
	assert.Equal(t, localDigest, documentedDigest)
}

func TestDigestSensitivity(t *testing.T) {
	base := mustDigest(t, sampleDAG())
	tests := []struct {
		name   string
		mutate func(d *schema.DAG)
	}{
		{name: "template", mutate: func(d *schema.DAG) { d.Tasks[1].Template = "bb/split-grid" }},
		{name: "input default", mutate: func(d *schema.DAG) { d.Inputs[1].Default = 11 }},
		{name: "task removed", mutate: func(d *schema.DAG) { d.Tasks = d.Tasks[:1] }},
		{name: "tasks reordered", mutate: func(d *schema.DAG) { d.Tasks[0], d.Tasks[1] = d.Tasks[1], d.Tasks[0] }},
		{name: "inputs reordered", mutate: func(d *schema.DAG) { d.Inputs[0], d.Inputs[1] = d.Inputs[1], d.Inputs[0] }},
		{name: "fail fast", mutate: func(d *schema.DAG) { d.FailFast = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDAG()
			tt.mutate(d)
			assert.NotEqual(t, base, mustDigest(t, d))
		})
	}
}

func TestRecipeDigestSkipsDependenciesAndDigest(t *testing.T) {
	r := &schema.Recipe{
		APIVersion: schema.APIVersion,
		Metadata:   schema.Metadata{Name: "daylight-factor", Tag: "0.8.0"},
		Flow:       []schema.DAG{*sampleDAG()},
	}
	before, err := Recipe(r)
	require.NoError(t, err)

	r.Dependencies = []schema.Dependency{{Kind: schema.DependencyPlugin, Name: "honeybee-radiance", Tag: "0.5.2"}}
	r.Digest = before
	after, err := Recipe(r)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	r.Metadata.Tag = "0.8.1"
	changed, err := Recipe(r)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestPluginDigestSkipsDigest(t *testing.T) {
	p := &schema.Plugin{
		Metadata:  schema.Metadata{Name: "honeybee-radiance", Tag: "0.5.2"},
		Config:    schema.PluginConfig{Docker: &schema.DockerConfig{Image: "ladybugtools/honeybee-radiance:0.5.2", Workdir: "/home/ladybugbot/run"}},
		Functions: []schema.Function{{Name: "split-grid", Command: "honeybee-radiance grid split"}},
	}
	first, err := Plugin(p)
	require.NoError(t, err)
	p.Digest = first
	second, err := Plugin(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// shuffledObject writes a JSON object with its keys in the drawn order.
func shuffledObject(t *rapid.T, label string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// map iteration order is not reproducible under rapid; sort first.
	sort.Strings(keys)
	keys = rapid.Permutation(keys).Draw(t, label)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q:%s", k, fields[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func TestDigestStableUnderKeyOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spec := rapid.MapOfN(rapid.StringMatching(`[a-z]{1,6}`), rapid.IntRange(-100, 100), 0, 6).Draw(t, "spec")
		specFields := make(map[string]string, len(spec))
		for k, v := range spec {
			specFields[k] = fmt.Sprint(v)
		}

		inputFields := map[string]string{
			`name`:    `"grid-count"`,
			`type`:    `"integer"`,
			`default`: `4`,
		}
		if len(spec) > 0 {
			inputFields["spec"] = shuffledObject(t, "spec-order", specFields)
		}
		if rapid.Bool().Draw(t, "null-description") {
			inputFields["description"] = "null"
		}
		if rapid.Bool().Draw(t, "null-required") {
			inputFields["required"] = "null"
		}
		dagFields := map[string]string{
			"name":   `"main"`,
			"inputs": "[" + shuffledObject(t, "input-order", inputFields) + "]",
			"tasks":  `[{"name":"a","template":"fn"}]`,
		}
		if rapid.Bool().Draw(t, "null-outputs") {
			dagFields["outputs"] = "null"
		}

		var shuffled schema.DAG
		if err := json.Unmarshal([]byte(shuffledObject(t, "dag-order", dagFields)), &shuffled); err != nil {
			t.Fatalf("decode: %v", err)
		}

		specAny := make(map[string]any, len(spec))
		for k, v := range spec {
			specAny[k] = v
		}
		in := schema.Input{Name: "grid-count", Type: schema.TypeInteger, Default: 4}
		if len(spec) > 0 {
			in.Spec = specAny
		}
		reference := schema.DAG{
			Name:     "main",
			FailFast: true,
			Inputs:   []schema.Input{in},
			Tasks:    []schema.Task{{Name: "a", Template: "fn"}},
		}

		got, err := Digest(&shuffled)
		if err != nil {
			t.Fatalf("Digest(shuffled): %v", err)
		}
		want, err := Digest(&reference)
		if err != nil {
			t.Fatalf("Digest(reference): %v", err)
		}
		if got != want {
			t.Fatalf("digest changed with key order: %s != %s", got, want)
		}
	})
}
