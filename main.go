// The main package for the personsearch executable.
package main

import (
	"github.com/JakeFAU/personsearch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
