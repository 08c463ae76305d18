package main

import (
	"fmt"
	"os"

	"ResearchDigest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "researchdigest:", err)
		os.Exit(cli.ExitCode(err))
	}
}
