// Package testdata loads problem test cases (inputs and expected outputs) from
// local directories, object storage prefixes or compressed data packs.
package testdata

import (
	"context"
	"path/filepath"
	"strings"

	appErr "codearena/pkg/errors"
)

// Ref schemes understood by MultiLoader. A ref without a scheme is a local directory.
const (
	PackScheme   = "pack://"
	ObjectScheme = "object://"
)

// Assets maps test-case name (file stem) to file content.
type Assets struct {
	Inputs  map[string]string
	Outputs map[string]string
}

// Loader reads the inputs and expected outputs of one problem.
// Implementations do not check that inputs and outputs pair up.
type Loader interface {
	Load(ctx context.Context, inputsRef, outputsRef string) (*Assets, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, inputsRef, outputsRef string) (*Assets, error)

func (f LoaderFunc) Load(ctx context.Context, inputsRef, outputsRef string) (*Assets, error) {
	return f(ctx, inputsRef, outputsRef)
}

// Stem returns name without its final extension: "1.in" -> "1", "a.b.out" -> "a.b".
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func loadError(err error, ref string) *appErr.Error {
	return appErr.Wrapf(err, appErr.AssetLoadFailed, "load test assets from %s failed", ref).
		WithDetail("ref", ref)
}
