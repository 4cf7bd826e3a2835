package plugins

import (
	"bytes"
	"context"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"

	"github.com/kelly/gopack/pkg/bundler"
)

// CompressPlugin writes a brotli compressed copy next to every large enough text artifact
type CompressPlugin struct {
	opts *bundler.CompressOptions
}

func NewCompressPlugin(opts *bundler.CompressOptions) *CompressPlugin {
	return &CompressPlugin{opts: opts}
}

func (p *CompressPlugin) Name() string {
	return "compress"
}

func (p *CompressPlugin) Emit(ctx context.Context, comp *bundler.Compilation) error {
	count := 0
	for _, a := range comp.Artifacts() {
		if len(a.Data) < p.opts.MinSize || (p.opts.Test != nil && !p.opts.Test.MatchString(a.Path)) {
			continue
		}

		data, err := compress(a.Data)
		if err != nil {
			return eris.Wrapf(err, "failed to compress %s", a.Path)
		}
		if len(data) >= len(a.Data) {
			continue
		}

		err = comp.AddArtifact(&bundler.Artifact{
			Name:  a.Name + ".br",
			Path:  a.Path + ".br",
			Type:  "application/x-brotli",
			Data:  data,
			Chunk: a.Chunk,
		})
		if err != nil {
			return err
		}
		count++
	}

	bundler.Log(ctx).Debug().Int("files", count).Msg("Compressed artifacts")
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	brw := brotli.NewWriterLevel(&buffer, brotli.BestCompression)
	if _, err := brw.Write(data); err != nil {
		return nil, err
	}
	if err := brw.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
