package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kelly/gopack/pkg/bundler"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [key=value ...]",
	Short: "Print the declared options, entries and rules",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		printConfig(cfg)
		return nil
	},
}

func printConfig(cfg *bundler.Config) {
	fmt.Printf("Build script: %s (mode %s)\n", cfg.File, cfg.Mode)

	if len(cfg.Options) > 0 {
		fmt.Println("\nOptions:")
		names := make([]string, 0, len(cfg.Options))
		maxNameLen := 0
		for name := range cfg.Options {
			names = append(names, name)
			if len(name) > maxNameLen {
				maxNameLen = len(name)
			}
		}
		sort.Strings(names)

		lineFmt := fmt.Sprintf(" * %%-%ds %%s (default: %%q)\n", maxNameLen+3)
		for _, name := range names {
			opt := cfg.Options[name]
			fmt.Printf(lineFmt, name+":", opt.Help, opt.Default())
		}
	}

	fmt.Println("\nEntries:")
	for _, entry := range cfg.Entries {
		fmt.Printf(" * %s: %s\n", entry.Name, entry.Source)
	}

	fmt.Println("\nRules:")
	for _, rule := range cfg.Rules {
		line := fmt.Sprintf(" * %s -> %s", rule.Test, rule.Type)
		if len(rule.Use) > 0 {
			line += " [" + strings.Join(rule.Use, ", ") + "]"
		}
		fmt.Println(line)
	}

	fmt.Printf("\nOutput: %s (%s, devtool %s)\n", cfg.Output.Path, cfg.Output.Filename, cfg.Devtool)
}

func init() {
	RootCmd.AddCommand(inspectCmd)
}
