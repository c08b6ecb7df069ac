// Command elfarol runs El Farol Bar grid simulations.
package main

import (
	"fmt"
	"os"

	"github.com/talgya/elfarol/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
