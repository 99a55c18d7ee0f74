package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/slaily/beeftree/btree"
)

func main() {
	dir, err := os.MkdirTemp("", "beeftree-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "beeftree.db")

	fmt.Println("### beeftree demo ###")
	fmt.Println()

	config := btree.DefaultConfig(path)
	config.MaxKeysPerNode = 4
	tree, err := btree.New(config)
	if err != nil {
		log.Fatal(err)
	}

	keys := rand.Perm(50)
	for _, k := range keys {
		if err := tree.Insert(k); err != nil {
			log.Fatalf("insert %d: %v", k, err)
		}
	}
	fmt.Printf("inserted %d keys in random order\n", len(keys))

	found, path37, err := tree.Search(37)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("search(37): found=%v, visited %d nodes\n", found, len(path37))

	for _, k := range []int{10, 20, 30} {
		if err := tree.Delete(k); err != nil {
			log.Fatalf("delete %d: %v", k, err)
		}
	}
	found, _, err = tree.Search(20)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("search(20) after delete: found=%v\n", found)

	if err := tree.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("closed, reopening from disk...")

	reopened, err := btree.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer reopened.Close()

	alive := 0
	for k := 0; k < 50; k++ {
		found, _, err := reopened.Search(k)
		if err != nil {
			log.Fatal(err)
		}
		if found {
			alive++
		}
	}
	fmt.Printf("after reopen: %d of 50 keys present\n", alive)
}
