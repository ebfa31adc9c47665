// The main package for the douyin-trends executable.
package main

import (
	"os"

	"github.com/mingtechpro/douyin-trends/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
