package main

import "github.com/gitsync/gitsync/cmd/syncctl/cmd"

func main() {
	cmd.Execute()
}
