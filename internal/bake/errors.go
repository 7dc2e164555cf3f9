package bake

import "fmt"

// Stage names the step of the pipeline an error came from.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageResolve  Stage = "resolve"
	StageValidate Stage = "validate"
	StageDigest   Stage = "digest"
)

// BakeError wraps the cause of a failed bake with the stage and package it
// failed in. errors.As reaches the typed cause through Unwrap.
type BakeError struct {
	Stage   Stage
	Package string
	Err     error
}

func (e *BakeError) Error() string {
	return fmt.Sprintf("bake %s: %s: %v", e.Package, e.Stage, e.Err)
}

func (e *BakeError) Unwrap() error { return e.Err }

func stageError(stage Stage, pkg string, err error) error {
	if err == nil {
		return nil
	}
	return &BakeError{Stage: stage, Package: pkg, Err: err}
}
