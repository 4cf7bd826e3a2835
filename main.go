package main

import (
	"os"

	"github.com/kelly/gopack/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
