package main

import "github.com/vietddude/stakeplay/internal/cli"

func main() {
	cli.Execute()
}
