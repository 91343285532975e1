// Command caracal compresses images and scores the result.
//
// Usage:
//
//	caracal compress [flags] <input> [output]
//	caracal assess <original> <compressed>
//	caracal compare <original> <compressed> [--diff diff.png]
//	caracal plan <width> <height>
//	caracal batch [flags] <inputs...> --out DIR
//
// Examples:
//
//	caracal compress photo.jpg small.jpg
//	caracal compress --mode aggressive --quality 60 photo.png
//	caracal compress --mode gentle --sharpen=false photo.jpg
//	caracal compare photo.jpg small.jpg --diff diff.png
//	caracal batch --out compressed/ *.jpg
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
