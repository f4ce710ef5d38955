//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var binaries = []string{"viewer", "mdltool"}

// Builds every command into bin/.
func (Build) All() error {
	if err := os.MkdirAll("bin", 0755); err != nil {
		return err
	}
	for _, name := range binaries {
		if _, err := executeCmd("go", withArgs("build", "-o", "bin/"+name, "./cmd/"+name), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the mdltool binary only.
func (Build) Tool() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/mdltool", "./cmd/mdltool"), withStream())
	return err
}
