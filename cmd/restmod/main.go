// Package main is the entry point for restmod.
package main

func main() {
	Execute()
}
