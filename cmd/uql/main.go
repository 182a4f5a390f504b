// Command uql validates UQL models, compiles queries and runs them.
package main

import (
	"os"

	"github.com/roach88/uql/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
