package main

import "github.com/ent0n29/booktalk/internal/cli"

func main() {
	cli.Execute()
}
