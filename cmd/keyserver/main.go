package main

import "github.com/exposurekeys/keyserver/internal/cli"

func main() {
	cli.Execute()
}
