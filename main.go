// Command mailprobe is a statistical email spam classifier in the
// Graham/Robinson lineage: train it on known good and spam mail, then
// score new messages or run it as a milter in front of an MTA.
package main

import (
	"fmt"
	"os"

	"github.com/mailprobe/mailprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mailprobe: %v\n", err)
		os.Exit(1)
	}
}
