package main

import "github.com/haloview/haloview-go/cmd"

func main() {
	cmd.Execute()
}
