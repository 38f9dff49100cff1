package testdata

import (
	"context"
	"os"
	"path/filepath"

	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// FSLoader reads test cases from two local directories.
// Only regular files directly inside each directory are read.
type FSLoader struct{}

func (FSLoader) Load(ctx context.Context, inputsDir, outputsDir string) (*Assets, error) {
	inputs, err := readDir(ctx, inputsDir)
	if err != nil {
		return nil, err
	}
	outputs, err := readDir(ctx, outputsDir)
	if err != nil {
		return nil, err
	}
	return &Assets{Inputs: inputs, Outputs: outputs}, nil
}

// readDir keys files by stem. os.ReadDir sorts by name, so when two files share
// a stem the lexically first one is kept.
func readDir(ctx context.Context, dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, loadError(err, dir)
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, loadError(err, dir)
		}
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		stem := Stem(name)
		if stem == "" {
			continue
		}
		if _, dup := files[stem]; dup {
			logger.Warn(ctx, "duplicate test case stem ignored",
				zap.String("dir", dir),
				zap.String("file", name),
			)
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, loadError(err, path)
		}
		files[stem] = string(data)
	}
	return files, nil
}
