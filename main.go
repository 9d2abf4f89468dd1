package main

import "github.com/arclbx/tgindex/cmd"

func main() {
	cmd.Execute()
}
