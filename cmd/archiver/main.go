// The main package for the spa-archiver executable.
package main

import "os"

func main() {
	os.Exit(Execute())
}
