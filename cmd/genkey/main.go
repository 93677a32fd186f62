// Command genkey prints a fresh hex-encoded ECDSA P-256 private key suitable
// for the retrieval server's --ecdsa-key flag.
package main

import (
	"fmt"
	"log"

	"github.com/exposafe/diagnosis-server/signing"
)

func main() {
	key, err := signing.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(key)
}
