package main

import "github.com/audiolibrelab/earcapture/cmd"

func main() {
	cmd.Execute()
}
