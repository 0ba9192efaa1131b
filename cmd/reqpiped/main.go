// Package main provides the entry point for reqpiped.
//
// reqpiped hosts the request pipeline behind an HTTP server, with modules
// configured in config.yaml.
//
// Usage:
//
//	reqpiped serve --config config.yaml
//	reqpiped logs --failed
//	reqpiped modules
package main

func main() {
	Execute()
}
