package main

import "github.com/Bagheerabaloo/jarvis/cmd"

func main() {
	cmd.Execute()
}
