package main

import "goblin-core/cmd/goblin-cli/cmd"

func main() {
	cmd.Execute()
}
