// kvs-server serves a key value store over TCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
	"github.com/Gibson-Gichuru/kvs/internal/engine"
	"github.com/Gibson-Gichuru/kvs/internal/server"
)

func main() {
	var (
		engineName string
		addr       string
	)

	cmd := &cobra.Command{
		Use:           "kvs-server",
		Short:         "Serve a key value store over TCP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(engineName, addr)
		},
	}

	cmd.Flags().StringVar(&engineName, "engine", engine.Kvs,
		fmt.Sprintf("storage engine to use (%s or %s)", engine.Kvs, engine.Bolt))
	cmd.Flags().StringVar(&addr, "addr", api.DefaultAddress, "address to listen on")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(engineName, addr string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	logger.Info(
		"starting engine",
		zap.String("engine", engineName),
		zap.String("path", dir),
	)

	eng, err := engine.Open(engineName, dir, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv, err := server.Start(logger, eng, addr)
	if err != nil {
		return err
	}

	return srv.Run()
}
