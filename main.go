package main

import "github.com/timvw/sightcheck/cmd"

func main() {
	cmd.Execute()
}
