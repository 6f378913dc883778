package main

import "github.com/ValentinKolb/shmrt/cmd"

func main() {
	cmd.Execute()
}
