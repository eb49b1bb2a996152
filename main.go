// The main package for the quakepipe executable.
package main

import (
	"github.com/quakewatch/quakepipe/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
