package main

import (
	"github.com/decred/negwallet/build"
)

var log = build.NewSubLogger("DAEM", nil)

func useLogger(root *build.RotatingLogWriter) {
	log = build.NewSubLogger("DAEM", root.GenSubLogger)
	root.RegisterSubLogger("DAEM", log)
}
