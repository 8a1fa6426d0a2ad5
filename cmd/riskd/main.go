package main

import "github.com/rustyeddy/riskd/internal/cli"

func main() {
	cli.Execute()
}
