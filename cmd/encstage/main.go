package main

import (
	"github.com/mengelbart/encstage/cmdmain"
	_ "github.com/mengelbart/encstage/subcmd"
)

func main() {
	cmdmain.Main()
}
