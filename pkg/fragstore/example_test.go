package fragstore_test

import (
	"context"
	"fmt"

	"github.com/bft-labs/fragstore/pkg/fragstore"
)

// ExampleOpen writes an atom larger than the chunk limit, confirms it and
// reads it back.
func ExampleOpen() {
	cfg := fragstore.DefaultConfig()
	cfg.Store.MaxChunkSize = 4

	store, err := fragstore.Open(context.Background(), cfg)
	if err != nil {
		fmt.Printf("failed to open: %v\n", err)
		return
	}
	defer store.Close()

	written := make(chan fragstore.Result, 1)
	if err := store.SubmitWrite(1, []byte("hello, fragments"), func(r fragstore.Result) { written <- r }); err != nil {
		fmt.Printf("failed to submit: %v\n", err)
		return
	}
	fmt.Println("write ok:", (<-written).OK())

	confirmed := make(chan fragstore.Result, 1)
	if err := store.RequestConfirm(1, func(r fragstore.Result) { confirmed <- r }); err != nil {
		fmt.Printf("failed to confirm: %v\n", err)
		return
	}
	fmt.Println("confirm ok:", (<-confirmed).OK())

	atom, err := store.ReadAtom(context.Background(), 1)
	if err != nil {
		fmt.Printf("failed to read: %v\n", err)
		return
	}
	fmt.Println(string(atom))

	// Output:
	// write ok: true
	// confirm ok: true
	// hello, fragments
}
