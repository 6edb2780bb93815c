package main

import "github.com/habitverse/habitverse-core/cmd/habitverse/root"

func main() {
	root.Execute()
}
