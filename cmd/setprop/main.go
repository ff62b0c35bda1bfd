/*
 * Copyright 2024 The propd Authors.
 */

// Command setprop is the CLI front-end for writing properties (spec §6
// "setprop name value").
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
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: setprop name value")
		os.Exit(1)
	}

	if *socketDir != propclient.DefaultSocketDir {
		propclient.SetSocketDir(*socketDir)
	}
	if err := propclient.Init(*propertiesDir); err != nil {
		fmt.Fprintf(os.Stderr, "setprop: %v\n", err)
		os.Exit(1)
	}

	if err := propclient.Set(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "setprop: %v\n", err)
		os.Exit(1)
	}
}
