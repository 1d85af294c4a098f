package main

import "github.com/BradenHooton/sentinel/cmd/sentinelctl/cmd"

func main() {
	cmd.Execute()
}
