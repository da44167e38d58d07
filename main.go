// The main package for the stackharvest executable.
package main

import (
	"github.com/JakeFAU/stackharvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
