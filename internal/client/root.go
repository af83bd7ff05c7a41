/*
Package client implements the chat client library: connection setup, handshake,
directory tracking, hybrid encryption of direct messages, and the event stream
consumed by the UI.

This file wires the library into a line-oriented terminal command. A richer
terminal UI can replace it by consuming the same Events channel.
*/
package client

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	nickname   string
)

var rootCmd = &cobra.Command{
	Use:   "beatrice",
	Short: "Encrypted terminal chat client",
	Long: "Connects to a Beatrice chat server, exchanges public keys, and relays\n" +
		"messages. Direct messages are end-to-end encrypted; broadcasts are not.",
	RunE: runChat,
}

// Execute runs the client command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "127.0.0.1:55556", "chat server address")
	rootCmd.Flags().StringVarP(&nickname, "nickname", "n", "", "nickname to request (required)")
	rootCmd.MarkFlagRequired("nickname")
}

func runChat(cmd *cobra.Command, args []string) error {
	c, err := Dial(serverAddr, nickname)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %q. Your key fingerprint: %s\n", serverAddr, nickname, c.Fingerprint())
	fmt.Println("Commands: /msg <nick> <text>, /who, /quit. Anything else is broadcast (unencrypted).")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range c.Events() {
			printEvent(ev)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			c.Close()
			<-done
			return nil

		case line == "/who":
			for _, p := range c.Peers() {
				fmt.Printf("  %-20s %s\n", p.Nickname, p.Fingerprint)
			}

		case strings.HasPrefix(line, "/msg "):
			rest := strings.TrimPrefix(line, "/msg ")
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				fmt.Println("Usage: /msg <nick> <text>")
				continue
			}
			if err := c.SendDirect(parts[0], parts[1]); err != nil {
				fmt.Printf("Could not send: %v\n", err)
			}

		default:
			if err := c.SendBroadcast(line); err != nil {
				fmt.Printf("Could not send: %v\n", err)
			}
		}
	}

	c.Close()
	<-done
	return scanner.Err()
}

// printEvent renders one event on the terminal.
func printEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		// Already announced on startup.

	case EventDirectory:
		fmt.Printf("*** %d user(s) online\n", len(ev.Users))
		for _, p := range ev.Users {
			fmt.Printf("  %-20s %s\n", p.Nickname, p.Fingerprint)
		}

	case EventJoin:
		fmt.Printf("*** %s joined (fingerprint %s)\n", ev.Peer.Nickname, ev.Peer.Fingerprint)

	case EventLeave:
		fmt.Printf("*** %s left\n", ev.Peer.Nickname)

	case EventKeyChange:
		fmt.Printf("*** %s announced a new key (fingerprint %s), verify out of band\n",
			ev.Peer.Nickname, ev.Peer.Fingerprint)

	case EventMessage:
		if ev.Direct {
			fmt.Printf("[dm] %s: %s\n", ev.Peer.Nickname, ev.Content)
		} else {
			fmt.Printf("%s: %s\n", ev.Peer.Nickname, ev.Content)
		}

	case EventError:
		fmt.Printf("!!! error %d: %s\n", ev.Code, ev.Message)

	case EventDisconnected:
		fmt.Println("*** disconnected")
	}
}
