// Command keygen generates a bridge encryption key suitable for the
// BRIDGE_ENCRYPTION_KEY environment variable.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/optimo/bridgebroker/internal/secrets"
)

func main() {
	asEnv := flag.Bool("env", false, "print as a BRIDGE_ENCRYPTION_KEY=... line")
	flag.Parse()

	key := make([]byte, secrets.KeySize)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to generate key: %v\n", err)
		os.Exit(1)
	}

	encoded := hex.EncodeToString(key)
	if *asEnv {
		fmt.Printf("BRIDGE_ENCRYPTION_KEY=%s\n", encoded)
		return
	}
	fmt.Println(encoded)
}
