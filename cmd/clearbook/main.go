package main

import "github.com/clearbook/clearbook/internal/cli"

func main() {
	cli.Execute()
}
