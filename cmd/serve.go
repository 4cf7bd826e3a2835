package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kelly/gopack/pkg/devserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve [key=value ...]",
	Short: "Run the dev server with hot reloading",
	Long:  `Builds the project, serves the result and rebuilds it whenever a source file changes. Connected browsers receive hot updates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := cmd.Flags().GetString("address")
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = commandContext(ctx)

		projectRoot := filepath.Dir(configPath)
		cache, closeCache := openCache(ctx, projectRoot, noCache)
		defer closeCache()

		server, err := devserver.New(ctx, devserver.Options{
			ConfigFile:    configPath,
			ProjectRoot:   projectRoot,
			ScriptOptions: options,
			Address:       address,
			Cache:         cache,
			Write:         true,
		})
		if err != nil {
			return err
		}

		return server.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringP("address", "a", "", "address to listen on (overrides dev_server(address=...))")
	serveCmd.Flags().Bool("no-cache", false, "don't keep transform results between rebuilds")
	RootCmd.AddCommand(serveCmd)
}
