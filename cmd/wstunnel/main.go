// Command wstunnel starts a tunnel client or server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wstunnel",
	Short: "tunnel TCP/UDP/SOCKS5/stdio over a websocket",
	Long:  "wstunnel exposes local listeners that forward to a remote destination through a websocket-upgraded connection, optionally over TLS.",
}

func init() {
	rootCmd.AddCommand(NewClientCommand())
	rootCmd.AddCommand(NewServerCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
