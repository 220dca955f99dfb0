// records-pipeline crawls a government records site, catalogs the files it
// publishes, downloads them, and imports their contents.
package main

import "github.com/openparl/records-pipeline/cmd"

func main() {
	cmd.Execute()
}
