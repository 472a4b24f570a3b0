package main

import (
	"os"

	"github.com/abhishekbhakat/liqui-speak/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
