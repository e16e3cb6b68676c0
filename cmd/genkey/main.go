// Command genkey prints fresh master key material for ENC_KEYS.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/xelth-com/parcelseal/internal/keystore"
)

func main() {
	id := flag.StringP("id", "i", "", "key id (required)")
	existing := flag.StringP("append", "a", "", "existing ENC_KEYS value to rotate from")
	flag.Parse()

	if *id == "" || strings.ContainsAny(*id, ":,") {
		fmt.Fprintln(os.Stderr, "genkey: --id is required and may not contain ':' or ','")
		flag.Usage()
		os.Exit(2)
	}

	material, err := keystore.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "genkey: %v\n", err)
		os.Exit(1)
	}
	entry := *id + ":" + hex.EncodeToString(material)

	keys := entry
	if *existing != "" {
		// Older keys stay so tokens sealed under them keep decoding
		if _, err := keystore.Parse(*existing, ""); err != nil {
			fmt.Fprintf(os.Stderr, "genkey: --append: %v\n", err)
			os.Exit(1)
		}
		keys = *existing + "," + entry
	}
	if _, err := keystore.Parse(keys, *id); err != nil {
		fmt.Fprintf(os.Stderr, "genkey: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ENC_KEYS=%s\n", keys)
	fmt.Printf("ENC_ACTIVE_KEY=%s\n", *id)
}
