// Package main is the entry point for the nmfscope server.
package main

func main() {
	Execute()
}
