package main

import (
	"github.com/turbolytics/stockroom/internal/cmd"
)

func main() {
	cmd.Execute()
}
