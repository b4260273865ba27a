// Command albumpub publishes spreadsheet-listed albums to the site.
package main

import (
	"os"

	"github.com/JakeFAU/album-publisher/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
