package main

import "github.com/agentic-research/pbixproj/cmd"

func main() {
	cmd.Execute()
}
