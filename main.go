// The main package for the crawlq executable when built from the module root.
package main

import "github.com/JakeFAU/crawl-broker/cmd"

func main() {
	cmd.Execute()
}
