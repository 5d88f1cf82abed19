package main

import "github.com/OpenTraceLab/OpenTraceEMFI/cmd/emfi/cmd"

func main() {
	cmd.Execute()
}
