package main

import (
	"context"
	"os"

	"github.com/metalxalloy/axionarb/cmd"
)

func main() {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
