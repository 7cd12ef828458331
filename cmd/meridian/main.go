package main

import "github.com/meridian-bft/meridian/internal/cli"

func main() {
	cli.Execute()
}
