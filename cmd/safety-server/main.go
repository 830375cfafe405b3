package main

import "github.com/oshokin/ship-safety/cmd/safety-server/cmd"

func main() {
	cmd.Execute()
}
