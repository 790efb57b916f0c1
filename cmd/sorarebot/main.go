package main

import "sorare-trading-bot/internal/cli"

func main() {
	cli.Execute()
}
