package main

import "github.com/kebairia/bakctl/cmd"

func main() {
	cmd.Execute()
}
