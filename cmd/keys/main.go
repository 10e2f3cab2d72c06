package main

// keys prints a fresh relay operator key pair, or the hex form of a given
// npub/nsec, for use in RELAY_PUBKEY.
import (
	"fmt"
	"log"
	"os"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func main() {
	if len(os.Args) > 1 {
		prefix, value, err := nip19.Decode(os.Args[1])
		if err != nil {
			log.Fatalf("Error decoding %s: %v", os.Args[1], err)
		}
		fmt.Printf("%s hex: %v\n", prefix, value)
		return
	}

	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		log.Fatalf("Error deriving public key: %v", err)
	}
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		log.Fatalf("Error encoding private key: %v", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		log.Fatalf("Error encoding public key: %v", err)
	}

	fmt.Println("sk:  ", sk)
	fmt.Println("pk:  ", pk)
	fmt.Println("nsec:", nsec)
	fmt.Println("npub:", npub)
}
