// Package main is the entry point for the jstool CLI.
package main

import "jstool.dev/pkg/jstool/cmd"

func main() {
	cmd.Execute()
}
