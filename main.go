// The main package for the nomenclature-crawler executable.
package main

import (
	"github.com/JakeFAU/nomenclature-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
