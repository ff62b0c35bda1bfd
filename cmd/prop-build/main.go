/*
 * Copyright 2024 The propd Authors.
 */

// Command prop-build is the CLI front-end for the offline area builder
// (C4): it turns a build.prop file and a property_contexts file into a
// directory of property-area files plus a manifest (spec §4.4).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/greenfield-labs/propd/internal/propbuild"
	"github.com/greenfield-labs/propd/internal/propctx"
)

var (
	buildProp  = flag.String("build-prop", "build.prop", "path to the build.prop key=value file")
	contexts   = flag.String("property-contexts", "property_contexts", "path to the property_contexts file")
	outDir     = flag.String("out", "./out", "output directory for area files and manifest")
	areaVer    = flag.Uint("area-version", 2, "area file version (1 or 2)")
	dumpTarget = flag.String("dump", "", "path to an existing area file to dump as CSV instead of building")
)

func main() {
	flag.Parse()

	if *dumpTarget != "" {
		if err := dumpArea(*dumpTarget); err != nil {
			fmt.Fprintf(os.Stderr, "prop-build: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, err := propctx.Load(*contexts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prop-build: loading %s: %v\n", *contexts, err)
		os.Exit(1)
	}

	f, err := os.Open(*buildProp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prop-build: opening %s: %v\n", *buildProp, err)
		os.Exit(1)
	}
	props, err := propbuild.ParseBuildProp(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "prop-build: parsing %s: %v\n", *buildProp, err)
		os.Exit(1)
	}

	manifest, err := propbuild.Build(ctx, props, *outDir, uint32(*areaVer))
	if err != nil {
		fmt.Fprintf(os.Stderr, "prop-build: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("built %d area(s), build-id %s, in %s\n", len(manifest.Areas), manifest.BuildID, *outDir)
}
