package bake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/bake/mocks"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

func depNamed(name string) gomock.Matcher {
	return dependencyMatcher(name)
}

type dependencyMatcher string

func (m dependencyMatcher) Matches(x interface{}) bool {
	dep, ok := x.(schema.Dependency)
	return ok && dep.Name == string(m)
}

func (m dependencyMatcher) String() string { return "dependency named " + string(m) }

func TestBakeTreeBakesUnbakedPlugin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		Fetch(gomock.Any(), depNamed("honeybee-radiance")).
		Return(bake.PluginPackage(radiancePlugin()), nil).
		Times(1)

	baker := &bake.Baker{Fetcher: fetcher}
	got, err := baker.BakeTree(context.Background(), daylightFactor())
	require.NoError(t, err)

	want, _ := bakeDaylightFactor(t)
	assert.Equal(t, want.Digest, got.Digest)
}

func TestBakeTreeBakesRecipeDependenciesFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		Fetch(gomock.Any(), depNamed("daylight-factor")).
		Return(bake.RecipePackage(daylightFactor()), nil).
		Times(1)
	// shared by the root recipe and daylight-factor; fetched once
	fetcher.EXPECT().
		Fetch(gomock.Any(), depNamed("honeybee-radiance")).
		Return(bake.PluginPackage(radiancePlugin()), nil).
		Times(1)

	baker := &bake.Baker{Fetcher: fetcher}
	got, err := baker.BakeTree(context.Background(), annualStudy())
	require.NoError(t, err)

	df, _ := bakeDaylightFactor(t)
	entry, _ := got.Entry()
	daylight, _ := entry.Task("daylight")
	assert.Equal(t, df.Digest+"/main", daylight.Template)
}

func TestBakeTreeDetectsPackageCycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	a := &schema.Recipe{
		Metadata:     schema.Metadata{Name: "a", Tag: "1.0.0"},
		Dependencies: []schema.Dependency{{Kind: schema.DependencyRecipe, Name: "b", Tag: "1.0.0"}},
		Flow:         []schema.DAG{{Name: "main", Tasks: []schema.Task{{Name: "run", Template: "b/main"}}}},
	}
	b := &schema.Recipe{
		Metadata:     schema.Metadata{Name: "b", Tag: "1.0.0"},
		Dependencies: []schema.Dependency{{Kind: schema.DependencyRecipe, Name: "a", Tag: "1.0.0"}},
		Flow:         []schema.DAG{{Name: "main", Tasks: []schema.Task{{Name: "run", Template: "a/main"}}}},
	}

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), depNamed("b")).Return(bake.RecipePackage(b), nil).AnyTimes()
	fetcher.EXPECT().Fetch(gomock.Any(), depNamed("a")).Return(bake.RecipePackage(a), nil).AnyTimes()

	baker := &bake.Baker{Fetcher: fetcher}
	_, err := baker.BakeTree(context.Background(), a)
	require.ErrorIs(t, err, schema.ErrGraphCycle)

	var bakeErr *bake.BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, bake.StageFetch, bakeErr.Stage)
}

func TestBakeTreeFetchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, errors.New("registry unreachable"))

	baker := &bake.Baker{Fetcher: fetcher}
	_, err := baker.BakeTree(context.Background(), daylightFactor())
	require.Error(t, err)

	var bakeErr *bake.BakeError
	require.True(t, errors.As(err, &bakeErr))
	assert.Equal(t, bake.StageFetch, bakeErr.Stage)
	assert.Contains(t, err.Error(), "registry unreachable")
}

func TestBakeTreeRejectsTamperedPackage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	plugin := bakedPlugin(t)
	plugin.Plugin.Metadata.Tag = "0.5.3"

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(plugin, nil)

	baker := &bake.Baker{Fetcher: fetcher}
	_, err := baker.BakeTree(context.Background(), daylightFactor())
	assert.ErrorIs(t, err, schema.ErrDigestMismatch)
}

func TestBakeTreeStopsOnCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	baker := &bake.Baker{Fetcher: mocks.NewMockFetcher(ctrl)}
	_, err := baker.BakeTree(ctx, daylightFactor())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockPinsDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().
		Fetch(gomock.Any(), depNamed("honeybee-radiance")).
		Return(bake.PluginPackage(radiancePlugin()), nil)

	recipe := daylightFactor()
	locked, err := (&bake.Baker{Fetcher: fetcher}).Lock(context.Background(), recipe)
	require.NoError(t, err)

	plugin := bakedPlugin(t)
	assert.Equal(t, plugin.Digest, locked.Dependencies[0].Hash)
	assert.Empty(t, recipe.Dependencies[0].Hash)
}
