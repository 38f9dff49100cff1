package testdata

import (
	"context"
	"io"
	"path"
	"strings"

	"codearena/internal/common/storage"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// ObjectLoader reads test cases stored as individual objects under two key prefixes
// of one bucket. Only objects directly under each prefix are read.
type ObjectLoader struct {
	Storage storage.ObjectStorage
	Bucket  string
}

func (l ObjectLoader) Load(ctx context.Context, inputsPrefix, outputsPrefix string) (*Assets, error) {
	inputs, err := l.readPrefix(ctx, inputsPrefix)
	if err != nil {
		return nil, err
	}
	outputs, err := l.readPrefix(ctx, outputsPrefix)
	if err != nil {
		return nil, err
	}
	return &Assets{Inputs: inputs, Outputs: outputs}, nil
}

func (l ObjectLoader) readPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	objects, err := l.Storage.ListObjects(ctx, l.Bucket, dir)
	if err != nil {
		return nil, loadError(err, prefix)
	}

	files := make(map[string]string, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, dir)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		stem := Stem(name)
		if stem == "" {
			continue
		}
		if _, dup := files[stem]; dup {
			logger.Warn(ctx, "duplicate test case stem ignored",
				zap.String("prefix", prefix),
				zap.String("object", obj.Key),
			)
			continue
		}
		content, err := l.readObject(ctx, obj.Key)
		if err != nil {
			return nil, loadError(err, path.Join(l.Bucket, obj.Key))
		}
		files[stem] = content
	}
	return files, nil
}

func (l ObjectLoader) readObject(ctx context.Context, key string) (string, error) {
	reader, err := l.Storage.GetObject(ctx, l.Bucket, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
