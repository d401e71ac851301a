package main

import "github.com/lukman83/watchfinder/cmd"

func main() {
	cmd.Execute()
}
