// Command barchomat runs the proxy or the server emulator, and inspects
// captured messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jankrod/barchomat/internal"
	"github.com/jankrod/barchomat/internal/core"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "barchomat",
		Short: "Proxy and server emulator for the game client",
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing config.yaml")

	loadCmd.Flags().BoolVar(&DumpFlag, "dump", false, "Dump the decoded Go values instead of JSON")
	loadCmd.Flags().BoolVar(&AllFieldsFlag, "all-fields", false, "Keep anonymous fields")

	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(loadCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Relay a client to the real server and capture villages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runController(internal.ProxyMode)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve captured villages to a client",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runController(internal.ServerMode)
	},
}

func runController(mode internal.Mode) error {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return err
	}
	fmt.Println("using configuration directory:", ConfigFlag)

	// Bind the Controller to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register a SIGTERM handler so that Ctrl-C will shut the servers down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	controller := &internal.Controller{
		Config: config,
		Mode:   mode,
	}
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("shut down")
	return nil
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
