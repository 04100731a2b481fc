package main

import "github.com/Zerofisher/honeypot/cmd"

func main() {
	cmd.Execute()
}
