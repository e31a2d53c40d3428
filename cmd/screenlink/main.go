package main

import "screenlink/cmd/screenlink/cmd"

func main() {
	cmd.Execute()
}
