//go:build no_psi

package main

import (
	"context"
	"os"
)

// Plain entrypoint for builds that skip the PID-1 supervisor. submain
// installs its own signal-cancelled context, so nothing is lost beyond
// orphan reaping.
func main() {
	os.Exit(submain(context.Background()))
}
