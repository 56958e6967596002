package main

import "fxtriangle/internal/cli"

func main() {
	cli.Execute()
}
