package main

import "github.com/pfrederiksen/events-monitor/internal/cli"

func main() {
	cli.Execute()
}
