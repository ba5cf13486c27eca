package main

import (
	"os"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/cmd"
)

var version = "dev"

func main() {
	os.Exit(cmd.Execute(version))
}
