// kvs-client talks to a kvs-server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	api "github.com/Gibson-Gichuru/kvs/api/v1"
	"github.com/Gibson-Gichuru/kvs/internal/client"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:           "kvs-client",
		Short:         "Talk to a kvs server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", api.DefaultAddress, "server address")

	root.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Get the value of a given key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client.Connect(addr)
				if err != nil {
					return err
				}
				defer c.Close()

				value, found, err := c.Get(args[0])
				if err != nil {
					return err
				}
				if !found {
					fmt.Println("Key not found")
					return nil
				}
				fmt.Println(value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set the value of a given key to a given value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client.Connect(addr)
				if err != nil {
					return err
				}
				defer c.Close()

				return c.Set(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "rm <key>",
			Short: "Remove a given key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client.Connect(addr)
				if err != nil {
					return err
				}
				defer c.Close()

				return c.Remove(args[0])
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(exit(err))
	}
}

// exit prints err and picks the process exit code: 2 for a protocol
// violation, 1 for everything else. A missing key on rm prints the bare
// "Key not found" message.
func exit(err error) int {
	var kvsErr *api.Error
	if errors.As(err, &kvsErr) && kvsErr.Kind == api.KeyNotFound {
		fmt.Fprintln(os.Stderr, "Key not found")
		return 1
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	if api.IsKind(err, api.Protocol) {
		return 2
	}
	return 1
}
