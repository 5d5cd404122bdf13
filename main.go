package main

import "github.com/shannonlabs/shannon/cmd"

func main() {
	cmd.Execute()
}
