package main

import "autoclick_go/cmd"

func main() {
	cmd.Execute()
}
