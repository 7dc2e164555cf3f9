package bake_test

import (
	"github.com/mattjoyce/honeycomb/internal/schema"
)

func required(v bool) *bool { return &v }

func radiancePlugin() *schema.Plugin {
	return &schema.Plugin{
		Metadata: schema.Metadata{
			Name:        "honeybee-radiance",
			Tag:         "0.5.2",
			Description: "Radiance functions for Honeybee.",
			Keywords:    []string{"radiance", "daylight"},
		},
		Config: schema.PluginConfig{
			Docker: &schema.DockerConfig{Image: "ladybugtools/honeybee-radiance:0.5.2", Workdir: "/home/ladybugbot/run"},
		},
		Functions: []schema.Function{
			{
				Name:    "generate-sky",
				Command: "honeybee-radiance sky illuminance 100000 --name output.sky",
				Inputs:  []schema.Input{{Name: "sky-density", Type: schema.TypeInteger, Default: 1}},
				Outputs: []schema.Output{{Name: "sky", Type: schema.TypeFile, Path: "output.sky"}},
			},
			{
				Name:    "split-grid",
				Command: "honeybee-radiance grid split grid.pts {{inputs.grid-count}} --folder output --log-file output/grids_info.json",
				Inputs: []schema.Input{
					{Name: "input-grid", Type: schema.TypeFile, Path: "grid.pts", Extensions: []string{"pts"}},
					{Name: "grid-count", Type: schema.TypeInteger, Default: 1},
				},
				Outputs: []schema.Output{
					{Name: "grid-list", Type: schema.TypeArray, ItemsType: schema.TypeObject, Path: "output/grids_info.json"},
					{Name: "output-folder", Type: schema.TypeFolder, Path: "output"},
				},
			},
			{
				Name:    "create-octree",
				Command: "honeybee-radiance octree from-folder model --output scene.oct --add-before sky.sky",
				Inputs: []schema.Input{
					{Name: "model", Type: schema.TypeFolder, Path: "model"},
					{Name: "sky", Type: schema.TypeFile, Path: "sky.sky"},
				},
				Outputs: []schema.Output{{Name: "scene-file", Type: schema.TypeFile, Path: "scene.oct"}},
			},
			{
				Name:    "ray-tracing",
				Command: "honeybee-radiance raytrace daylight-factor scene.oct grid.pts --rad-params \"{{inputs.radiance-parameters}}\" --output grid.res",
				Inputs: []schema.Input{
					{Name: "radiance-parameters", Type: schema.TypeString, Default: "-ab 2"},
					{Name: "octree-file", Type: schema.TypeFile, Path: "scene.oct"},
					{Name: "sensor-grid", Type: schema.TypeFile, Path: "grid.pts"},
					{Name: "grid-name", Type: schema.TypeString, Required: required(true)},
				},
				Outputs: []schema.Output{{Name: "result-file", Type: schema.TypeFile, Path: "grid.res"}},
			},
			{
				Name:    "post-process",
				Command: "honeybee-radiance grid merge-folder ./input_folder ./results res",
				Inputs:  []schema.Input{{Name: "input-folder", Type: schema.TypeFolder, Path: "input_folder"}},
				Outputs: []schema.Output{{Name: "results", Type: schema.TypeFolder, Path: "results"}},
			},
		},
	}
}

func ref(r schema.Reference) schema.Ref { return schema.NewRef(r) }

// daylightFactor is a five task recipe drawing every template from one plugin dependency.
func daylightFactor() *schema.Recipe {
	return &schema.Recipe{
		Metadata: schema.Metadata{
			Name:        "daylight-factor",
			Tag:         "0.8.0",
			Description: "Daylight factor for annual daylight studies.",
		},
		Dependencies: []schema.Dependency{
			{Kind: schema.DependencyPlugin, Name: "honeybee-radiance", Tag: "0.5.2", Source: "https://api.pollination.cloud/registries/ladybug-tools"},
		},
		Flow: []schema.DAG{
			{
				Name:     "main",
				FailFast: true,
				Inputs: []schema.Input{
					{Name: "model", Type: schema.TypeFolder},
					{Name: "grid-file", Type: schema.TypeFile, Extensions: []string{"pts"}},
					{Name: "sensor-grid-count", Type: schema.TypeInteger, Default: 200},
					{Name: "radiance-parameters", Type: schema.TypeString, Default: "-ab 2 -aa 0.1 -ad 2048 -ar 64"},
				},
				Tasks: []schema.Task{
					{
						Name:     "generate-sky",
						Template: "honeybee-radiance/generate-sky",
						Returns:  []schema.Return{{Name: "sky", Type: schema.TypeFile}},
					},
					{
						Name:     "split-grid",
						Template: "honeybee-radiance/split-grid",
						Arguments: []schema.Argument{
							{Name: "input-grid", From: ref(schema.InputFileReference{Variable: "grid-file"})},
							{Name: "grid-count", From: ref(schema.InputReference{Variable: "sensor-grid-count"})},
						},
						Returns: []schema.Return{
							{Name: "grid-list", Type: schema.TypeArray},
							{Name: "output-folder", Type: schema.TypeFolder},
						},
					},
					{
						Name:     "create-octree",
						Template: "honeybee-radiance/create-octree",
						Arguments: []schema.Argument{
							{Name: "model", From: ref(schema.InputFolderReference{Variable: "model"})},
							{Name: "sky", From: ref(schema.TaskFileReference{Name: "generate-sky", Variable: "sky"})},
						},
						Returns: []schema.Return{{Name: "scene-file", Type: schema.TypeFile}},
					},
					{
						Name:      "ray-tracing",
						Template:  "honeybee-radiance/ray-tracing",
						Loop:      &schema.Loop{From: ref(schema.TaskReference{Name: "split-grid", Variable: "grid-list"})},
						SubFolder: "initial-results/{{item.name}}",
						Arguments: []schema.Argument{
							{Name: "radiance-parameters", From: ref(schema.InputReference{Variable: "radiance-parameters"})},
							{Name: "octree-file", From: ref(schema.TaskFileReference{Name: "create-octree", Variable: "scene-file"})},
							{
								Name:    "sensor-grid",
								From:    ref(schema.TaskFolderReference{Name: "split-grid", Variable: "output-folder"}),
								SubPath: "{{item.name}}.pts",
							},
							{Name: "grid-name", From: ref(schema.ItemReference{Variable: "name"})},
						},
					},
					{
						Name:     "post-process",
						Template: "honeybee-radiance/post-process",
						Needs:    []string{"ray-tracing"},
						Arguments: []schema.Argument{
							{Name: "input-folder", From: ref(schema.ValueFolderReference{Path: "initial-results"})},
						},
						Returns: []schema.Return{{Name: "results", Type: schema.TypeFolder}},
					},
				},
				Outputs: []schema.DAGOutput{
					{Name: "data", Type: schema.TypeFolder, From: ref(schema.TaskFolderReference{Name: "post-process", Variable: "results"})},
				},
			},
		},
	}
}

// annualStudy uses the daylight-factor recipe as a nested DAG template.
func annualStudy() *schema.Recipe {
	return &schema.Recipe{
		Metadata: schema.Metadata{Name: "annual-study", Tag: "0.1.0"},
		Dependencies: []schema.Dependency{
			{Kind: schema.DependencyRecipe, Name: "daylight-factor", Tag: "0.8.0", Alias: "df"},
			{Kind: schema.DependencyPlugin, Name: "honeybee-radiance", Tag: "0.5.2"},
		},
		Flow: []schema.DAG{
			{
				Name:     "main",
				FailFast: true,
				Inputs: []schema.Input{
					{Name: "model", Type: schema.TypeFolder},
					{Name: "grid-file", Type: schema.TypeFile},
				},
				Tasks: []schema.Task{
					{Name: "sky", Template: "honeybee-radiance/generate-sky", Returns: []schema.Return{{Name: "sky", Type: schema.TypeFile}}},
					{
						Name:     "daylight",
						Template: "df/main",
						Arguments: []schema.Argument{
							{Name: "model", From: ref(schema.InputFolderReference{Variable: "model"})},
							{Name: "grid-file", From: ref(schema.InputFileReference{Variable: "grid-file"})},
						},
						Returns: []schema.Return{{Name: "data", Type: schema.TypeFolder}},
					},
				},
			},
		},
	}
}
