//go:build !no_psi

package main

import "pkt.systems/psi"

// psi supervises the process when quiesced runs as PID 1 in a container,
// reaping orphans and forwarding signals into the context it hands submain.
func main() {
	psi.Run(submain)
}
