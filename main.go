package main

import "github.com/kulesh/catsyphon-sub001/cmd"

func main() {
	cmd.Execute()
}
