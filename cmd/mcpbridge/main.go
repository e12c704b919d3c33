package main

import "github.com/effective-security/mcpbridge/internal/cli"

func main() {
	cli.Execute()
}
