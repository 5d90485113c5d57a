package main

import "github.com/nexuslearn/nexuslink/cmd/nexuslink/cmd"

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
