/*
Package main is the entry point for the Beatrice terminal chat client.

It initializes logging at a quiet level (the terminal belongs to the chat)
and hands control to the client command.
*/
package main

import (
	"fmt"
	"os"

	"beatrice/internal/client"
	"beatrice/internal/pkg/logx"
)

func main() {
	logx.InitGlobalLogger(os.Getenv("ENVIRONMENT") == "development")

	if err := client.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
