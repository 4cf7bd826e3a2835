// Package bundler implements a small asset bundler configured through a Starlark build script.
// Script modules are converted with esbuild, stylesheets with douceur, and every emitted file is
// named after its content hash so unchanged inputs reproduce unchanged output names.
package bundler
