package main

import "VoiceFM/cmd"

func main() {
	cmd.Execute()
}
