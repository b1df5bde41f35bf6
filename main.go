package main

import (
	"os"

	"github.com/user/hostaudit/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
