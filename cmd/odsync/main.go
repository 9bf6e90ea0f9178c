package main

import (
	"github.com/dl-alexandre/odsync/internal/cli"
)

func main() {
	cli.Execute()
}
