package main

import "github.com/information-sharing-networks/slash-messenger/internal/cli"

func main() {
	cli.Execute()
}
