package main

import (
	"github.com/wapilot/wapilot/cmd"
)

func main() {
	cmd.Execute()
}
