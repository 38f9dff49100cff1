package testdata

import (
	"context"
	"fmt"
	"strings"
)

// MultiLoader dispatches on the ref scheme: pack:// to Pack, object:// to Object,
// anything else to FS. Unconfigured backends fail with an asset load error.
type MultiLoader struct {
	FS     Loader
	Object Loader
	Pack   Loader
}

func (m MultiLoader) Load(ctx context.Context, inputsRef, outputsRef string) (*Assets, error) {
	switch {
	case strings.HasPrefix(inputsRef, PackScheme):
		if m.Pack == nil {
			return nil, loadError(fmt.Errorf("pack loader not configured"), inputsRef)
		}
		return m.Pack.Load(ctx, inputsRef, outputsRef)
	case strings.HasPrefix(inputsRef, ObjectScheme):
		if m.Object == nil {
			return nil, loadError(fmt.Errorf("object loader not configured"), inputsRef)
		}
		return m.Object.Load(ctx, strings.TrimPrefix(inputsRef, ObjectScheme), strings.TrimPrefix(outputsRef, ObjectScheme))
	default:
		fsLoader := m.FS
		if fsLoader == nil {
			fsLoader = FSLoader{}
		}
		return fsLoader.Load(ctx, inputsRef, outputsRef)
	}
}
