package main

import "github.com/flameworker/glassmigrate/cmd/glassmigrate/cmd"

func main() {
	cmd.Execute()
}
