// Command streamup streams an HTTP resource into an S3 multipart upload.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
