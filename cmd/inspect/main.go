// Command inspect dumps raw store keys and values for debugging. Point
// it at a chatdb database directory that no server currently holds open.
package main

import (
	"flag"
	"fmt"
	"os"

	"chatdb/pkg/store"
)

func main() {
	var (
		path   string
		prefix string
		values bool
	)
	flag.StringVar(&path, "db", "", "path to the pebble database")
	flag.StringVar(&prefix, "prefix", "", "key prefix to list (e.g. chat: or msgidx:)")
	flag.BoolVar(&values, "values", false, "print values alongside keys")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	s, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	keys, err := s.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !values {
			fmt.Println(k)
			continue
		}
		v, err := s.GetKey(k)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}
