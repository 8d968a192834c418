package main

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"koinonia/internal/cli"
)

func main() {
	// glog logs to files by default; a CLI wants stderr. Cobra owns the real
	// argument parsing, so the stdlib flag set is parsed empty just to mark
	// it done for glog.
	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
