// fightclient is an interactive smoke-test client for the match server. It
// connects, prints every message the server sends, and accepts simple
// commands on stdin. Useful for poking at a running server without the game.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bernardosdias/fightnet/client"
	"github.com/bernardosdias/fightnet/protocol"
)

func main() {
	var (
		host    string
		port    int
		name    string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:          "fightclient",
		Short:        "Interactive test client for the match server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New()
			if err := c.Connect(host, port, timeout); err != nil {
				return err
			}
			defer c.Disconnect()

			if name != "" {
				c.SetPlayerName(name)
			}
			fmt.Printf("Connected as player %d\n", c.PlayerID())
			fmt.Println("Commands: ping | char <name> | map <id> | hit <victim> <damage> | quit")

			go printIncoming(c)
			return commandLoop(c)
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "server address")
	rootCmd.Flags().IntVar(&port, "port", protocol.DefaultPort, "server port")
	rootCmd.Flags().StringVar(&name, "name", "", "display name to report")
	rootCmd.Flags().DurationVar(&timeout, "timeout", client.DefaultConnectTimeout, "connect handshake timeout")

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Client exited")
	}
}

func printIncoming(c *client.Client) {
	for c.Connected() {
		for c.HasMessages() {
			msg := c.GetMessage()
			fmt.Printf("<- %s %+v\n", msg.Type, msg.Data)
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Println("Connection lost")
}

func commandLoop(c *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "quit":
			return nil
		case "ping":
			if err = c.Ping(); err == nil {
				time.Sleep(200 * time.Millisecond)
				fmt.Printf("latency: %s\n", c.Latency())
			}
		case "char":
			if len(fields) < 2 {
				fmt.Println("usage: char <name>")
				continue
			}
			err = c.SelectCharacter(strings.Join(fields[1:], " "))
		case "map":
			if len(fields) < 2 {
				fmt.Println("usage: map <id>")
				continue
			}
			err = c.SelectMap(fields[1])
		case "hit":
			var victim, damage int
			if _, scanErr := fmt.Sscanf(strings.Join(fields[1:], " "), "%d %d", &victim, &damage); scanErr != nil {
				fmt.Println("usage: hit <victim> <damage>")
				continue
			}
			err = c.SendHit(victim, damage)
		default:
			fmt.Println("Commands: ping | char <name> | map <id> | hit <victim> <damage> | quit")
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
