package main

import (
	"hetu/cli"
)

func main() {
	cli.Execute()
}
