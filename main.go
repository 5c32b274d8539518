package main

import "github.com/nextlevelbuilder/gocode/cmd"

func main() {
	cmd.Execute()
}
