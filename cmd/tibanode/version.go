package main

import "runtime"

// Version and Gitref are set at build time with -ldflags.
var (
	Version = "0.1.0"
	Gitref  = "dev"
)

func runtimeVersion() string {
	return runtime.Version()
}
