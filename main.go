package main

import (
	"github.com/snoreguard/snoreguard/cmd"
	"github.com/snoreguard/snoreguard/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
