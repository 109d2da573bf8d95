package main

import (
	"github.com/QuinnsCode/mtg-spectr-sub001/internal/cli"
)

func main() {
	cli.Execute()
}
