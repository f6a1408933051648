//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "rnatd: TUN devices are only supported on linux")
	os.Exit(1)
}
