// Command mercury-admin manages users, channels and keys of a mercury broker
// from the command line.
//
// The broker and credentials are read from the URL, NAME and PASSWORD
// environment variables.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
