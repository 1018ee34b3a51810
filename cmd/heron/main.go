package main

import (
	"fmt"
	"os"

	"github.com/logrusorgru/aurora/v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println(aurora.Red("heron: "), err.Error())
		os.Exit(1)
	}
}
