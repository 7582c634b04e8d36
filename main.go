package main

import "github.com/vibast-solutions/ms-go-bakong/cmd"

func main() {
	cmd.Execute()
}
