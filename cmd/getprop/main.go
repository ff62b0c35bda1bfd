/*
 * Copyright 2024 The propd Authors.
 */

// Command getprop is the CLI front-end for reading properties (spec §6
// "getprop [name [default]]").
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/greenfield-labs/propd/propclient"
)

var (
	propertiesDir = flag.String("properties-dir", propclient.DefaultPropertiesDir, "properties directory")
	socketDir     = flag.String("socket-dir", propclient.DefaultSocketDir, "socket directory")
)

func main() {
	flag.Parse()
	if *socketDir != propclient.DefaultSocketDir {
		propclient.SetSocketDir(*socketDir)
	}
	if err := propclient.Init(*propertiesDir); err != nil {
		fmt.Fprintf(os.Stderr, "getprop: %v\n", err)
		os.Exit(0) // exit 0 always, per spec §6
	}

	args := flag.Args()
	switch len(args) {
	case 0:
		printAll()
	case 1:
		printOne(args[0], "")
	default:
		printOne(args[0], args[1])
	}
}

func printAll() {
	err := propclient.Iterate(func(name, value string) {
		fmt.Printf("[%s]: [%s]\n", name, value)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "getprop: %v\n", err)
	}
}

func printOne(name, def string) {
	val, err := propclient.Get(name)
	if err != nil {
		fmt.Println(def)
		return
	}
	fmt.Println(val)
}
