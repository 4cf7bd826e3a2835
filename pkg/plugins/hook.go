package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kelly/gopack/pkg/bundler"
)

// ExecHookPlugin runs shell commands after every successful build. Commands are interpreted by
// mvdan.cc/sh so they behave the same on every platform.
type ExecHookPlugin struct {
	hook   bundler.HookOptions
	dir    string
	outDir string
	stdout *os.File
	stderr *os.File
}

func NewExecHookPlugin(hook bundler.HookOptions, projectRoot, outDir string) *ExecHookPlugin {
	return &ExecHookPlugin{
		hook:   hook,
		dir:    projectRoot,
		outDir: outDir,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func (p *ExecHookPlugin) Name() string {
	return "exec_hook"
}

func (p *ExecHookPlugin) hookEnv(stats *bundler.Stats) expand.Environ {
	envVars := os.Environ()
	envVars = append(envVars,
		fmt.Sprintf("GOPACK_BUILD_ID=%s", stats.BuildID),
		fmt.Sprintf("GOPACK_OUTPUT=%s", p.outDir),
	)
	return expand.ListEnviron(envVars...)
}

func (p *ExecHookPlugin) Done(ctx context.Context, stats *bundler.Stats) error {
	if stats.Err != nil || stats.DryRun {
		return nil
	}

	runner, err := interp.New(
		interp.Dir(p.dir),
		interp.Env(p.hookEnv(stats)),
		interp.StdIO(nil, p.stdout, p.stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, cmd := range p.hook.Cmds {
		file, err := parser.Parse(strings.NewReader(cmd), "exec_hook")
		if err != nil {
			return eris.Wrapf(err, "failed to parse hook command %q", cmd)
		}

		for _, stmt := range file.Stmts {
			strBuffer.Reset()
			printer.Print(&strBuffer, stmt)
			bundler.Log(ctx).Info().Bool("command", true).Msg(strBuffer.String())

			if err := runner.Run(ctx, stmt); err != nil {
				return eris.Wrapf(err, "hook command %q failed", cmd)
			}
			if runner.Exited() {
				return nil
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
