package main

import "github.com/gaurav-prasanna/usdaprices/cmd"

func main() {
	cmd.Execute()
}
