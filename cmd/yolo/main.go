// Package main provides the yolo CLI: inspect the built-in layer tables,
// build YOLOv4 graphs and move their weights to and from darknet files.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

func main() {
	if err := run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes the CLI with args, writing results to out and logs to logW.
func run(out, logW io.Writer, args []string) error {
	cmd := newRootCmd(out, logW)
	cmd.SetArgs(args)
	return cmd.Execute()
}
