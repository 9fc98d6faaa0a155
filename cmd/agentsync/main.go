package main

import "github.com/agentsync-dev/agentsync/cmd/agentsync/commands"

func main() {
	commands.Execute()
}
