package main

import "github.com/oshokin/ship-safety/cmd/safety-ctl/cmd"

func main() {
	cmd.Execute()
}
