//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Assets mg.Namespace

// Generates the sample model the default config loads.
func (Assets) Sample() error {
	mg.Deps(Build.Tool)
	if _, err := executeCmd("bin/mdltool", withArgs("pack", "assets/models/sample.mdl", "sample.bin", "4"), withStream()); err != nil {
		return err
	}
	_, err := executeCmd("bin/mdltool", withArgs("validate", "assets/models/sample.mdl"), withStream())
	return err
}

// Renders a few headless frames against the sample assets.
func (Assets) Smoke() error {
	mg.Deps(Assets.Sample)
	_, err := executeCmd("go", withArgs("run", "./cmd/viewer", "-headless", "-frames", "3", "-assets", "assets"), withDir("."), withStream())
	return err
}
