package main

import "github.com/CraigKelly/horseshoe/cmd"

func main() {
	cmd.Execute()
}
