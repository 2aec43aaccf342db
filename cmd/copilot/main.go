// Command copilot asks the BI analysis backend questions from a terminal.
package main

import (
	"os"
)

func main() {
	os.Exit(int(Run()))
}
