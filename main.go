package main

import "LoopFM/cmd"

func main() {
	cmd.Execute()
}
