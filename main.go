package main

import "github.com/nextlevelbuilder/sitememo/cmd"

func main() {
	cmd.Execute()
}
