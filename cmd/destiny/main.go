// Package main is the destiny command: the offline mutation queue, its
// replay scheduler and the streak calculator behind one binary.
package main

import (
	"fmt"
	"os"

	_ "time/tzdata"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "destiny:", err)
		os.Exit(1)
	}
}
