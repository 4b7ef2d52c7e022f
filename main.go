package main

import (
	"os"

	"github.com/talentscout/interviewer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
