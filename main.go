// The main package for the discover executable.
package main

import (
	"os"

	"github.com/JakeFAU/competition-discovery/cmd"
)

// main defers all execution to the Cobra CLI and exits with the mapped code.
func main() {
	os.Exit(cmd.Execute())
}
