package main

import "github.com/ppiankov/leakwatch/internal/cli"

func main() {
	cli.Execute()
}
