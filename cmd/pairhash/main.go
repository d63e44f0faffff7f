// Command pairhash prints the bcrypt hash of a device pairing code, for use
// as pairingCodeHash in config.yaml.
package main

import (
	"fmt"
	"os"

	"shelfscan/internal/devicetoken"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: pairhash <pairing-code>")
		os.Exit(2)
	}
	hash, err := devicetoken.HashPairingCode(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairhash: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
