package main

import "github.com/qrave1/LiveClass/cmd"

func main() {
	cmd.Execute()
}
