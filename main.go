// The main package for the sitesnap executable.
package main

import (
	"github.com/JakeFAU/site-snapshot/cmd"
)

func main() {
	cmd.Execute()
}
