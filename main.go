package main

import "github.com/Hasintha01/logwatcher/internal/cmd"

func main() {
	cmd.Execute()
}
