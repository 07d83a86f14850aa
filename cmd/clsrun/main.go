// clsrun runs object class methods against the in-memory native runtime.
// It is a harness for trying out classes, Go or WebAssembly, without a
// storage daemon.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
