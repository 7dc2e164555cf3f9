package store

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// LatestTag is the dependency tag that selects the newest version.
const LatestTag = "latest"

func canonical(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return tag
	}
	return "v" + tag
}

// CompareTags orders package tags by semantic version. Tags that are not
// valid versions sort below every valid one and among themselves by name.
func CompareTags(a, b string) int {
	va, vb := canonical(a), canonical(b)
	okA, okB := semver.IsValid(va), semver.IsValid(vb)
	switch {
	case okA && okB:
		return semver.Compare(va, vb)
	case okA:
		return 1
	case okB:
		return -1
	}
	return strings.Compare(a, b)
}

// SortNewestFirst sorts tags from the highest version down.
func SortNewestFirst(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool { return CompareTags(tags[i], tags[j]) > 0 })
}
