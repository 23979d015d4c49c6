package main

import "github.com/bryanchriswhite/pluriview/cmd/pluriview/commands"

func main() {
	commands.Execute()
}
