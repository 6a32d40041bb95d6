package main

import "github.com/gregory-lime/jacques-context-manager-sub003/cmd"

func main() {
	cmd.Execute()
}
