package main

import (
	"hlsrelay/cmd"
)

func main() {
	cmd.Execute()
}
