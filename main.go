package main

import (
	"os"

	"github.com/saravenpi/wavechat/internal/command"
)

func main() {
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
