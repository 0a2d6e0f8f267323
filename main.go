package main

import "crowd-radio/cmd"

func main() {
	cmd.Execute()
}
