package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kelly/gopack/pkg/bundler"
	"github.com/kelly/gopack/pkg/plugins"
)

var buildCmd = &cobra.Command{
	Use:   "build [key=value ...]",
	Short: "Compile the project once",
	Long:  `Compiles every entry point declared by the build script and writes the artifacts and the manifest to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		noCache, err := cmd.Flags().GetBool("no-cache")
		if err != nil {
			return err
		}

		options, err := parseOptions(args)
		if err != nil {
			return err
		}

		configPath, err := findConfig(cmd)
		if err != nil {
			return err
		}

		ctx := commandContext(context.Background())
		cfg, err := bundler.LoadConfig(ctx, configPath, options)
		if err != nil {
			return err
		}

		list, err := plugins.FromConfig(ctx, cfg)
		if err != nil {
			return err
		}

		cache, closeCache := openCache(ctx, cfg.ProjectRoot, noCache)
		defer closeCache()

		bar := getProgressBar("compiling")
		compiler := bundler.NewCompiler(cfg,
			bundler.WithCache(cache),
			bundler.WithPlugins(list...),
			bundler.WithProgress(func(relPath string) {
				bar.Describe(relPath)
				_ = bar.Add(1)
			}),
		)

		comp, err := compiler.Run(ctx, dryRun)
		_ = bar.Clear()
		if err != nil {
			// the compiler logs build failures itself
			return reportedError{err}
		}

		printArtifacts(comp, dryRun)
		return nil
	},
}

func getProgressBar(desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions(-1, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func printArtifacts(comp *bundler.Compilation, dryRun bool) {
	out := comp.Config.Output.Path
	if rel, err := filepath.Rel(".", out); err == nil {
		out = rel
	}

	if dryRun {
		fmt.Printf("Dry run, nothing was written to %s:\n", out)
	} else {
		fmt.Printf("Wrote %s:\n", out)
	}

	maxNameLen := 0
	for _, a := range comp.Artifacts() {
		if len(a.Path) > maxNameLen {
			maxNameLen = len(a.Path)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%8s  %%s\n", maxNameLen+1)
	for _, a := range comp.Artifacts() {
		label := a.Name
		if a.Chunk != "" {
			label = "[" + a.Chunk + "]"
		}
		fmt.Printf(lineFmt, a.Path, formatSize(len(a.Data)), label)
	}
}

func formatSize(size int) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func init() {
	buildCmd.Flags().BoolP("dry", "n", false, "dry run; compile and report but don't write anything")
	buildCmd.Flags().Bool("no-cache", false, "ignore and don't update the transform cache")
	RootCmd.AddCommand(buildCmd)
}
