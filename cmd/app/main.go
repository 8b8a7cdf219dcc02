package main

import "Trape/internal/cli"

func main() {
	cli.Execute()
}
