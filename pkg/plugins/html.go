package plugins

import (
	"context"
	ht "html/template"
	"io/ioutil"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kelly/gopack/pkg/bundler"
)

const defaultShell = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{ .Title }}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
{{- range .Styles }}
    <link href="{{ . }}" rel="stylesheet">
{{- end }}
{{- range .Scripts }}
    <script defer src="{{ . }}"></script>
{{- end }}
  </head>
  <body>
  </body>
</html>
`

// ShellParams contains the values that will be passed to the page template
type ShellParams struct {
	Title   string
	Scripts []string
	Styles  []string
}

// HTMLPlugin generates the page that loads every chunk in the right order
type HTMLPlugin struct {
	opts *bundler.HTMLOptions
	tpl  *ht.Template
}

func NewHTMLPlugin(opts *bundler.HTMLOptions) (*HTMLPlugin, error) {
	source := defaultShell
	if opts.Template != "" {
		data, err := ioutil.ReadFile(opts.Template)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read template file %s", opts.Template)
		}
		source = string(data)
	}

	tpl, err := ht.New("page shell").Parse(source)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse template %s", opts.Template)
	}

	return &HTMLPlugin{opts: opts, tpl: tpl}, nil
}

func (p *HTMLPlugin) Name() string {
	return "html"
}

func (p *HTMLPlugin) Emit(ctx context.Context, comp *bundler.Compilation) error {
	params := ShellParams{
		Title:   p.opts.Title,
		Scripts: []string{},
		Styles:  []string{},
	}

	// runtime first, then shared chunks, then entries
	for _, ch := range comp.Chunks {
		if ch.Style != nil {
			params.Styles = append(params.Styles, comp.PublicPath(ch.Style))
		}
		if ch.Script != nil {
			params.Scripts = append(params.Scripts, comp.PublicPath(ch.Script))
		}
	}

	text := strings.Builder{}
	if err := p.tpl.Execute(&text, params); err != nil {
		return eris.Wrap(err, "failed to execute page template")
	}

	bundler.Log(ctx).Debug().Str("path", p.opts.Filename).Msg("Generated page")
	return comp.AddArtifact(&bundler.Artifact{
		Name:     p.opts.Filename,
		Path:     p.opts.Filename,
		Type:     "text/html; charset=utf-8",
		Data:     []byte(text.String()),
		Manifest: true,
	})
}
