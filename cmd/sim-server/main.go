// sim-server runs the simulation engine standalone: it loads a content
// pack, restores the latest snapshot, drives the tick loop and exposes
// observer and metrics endpoints.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
