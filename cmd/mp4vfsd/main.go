package main

import (
	"fmt"
	"os"

	"github.com/javi11/mp4vfsd/cmd/mp4vfsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
