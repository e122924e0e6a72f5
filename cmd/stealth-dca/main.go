package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	_ "stealthdca/docs"
)

func main() {
	defer memguard.Purge()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.fail.Render("error: ")+err.Error())
		memguard.Purge()
		os.Exit(1)
	}
}
