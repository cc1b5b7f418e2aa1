// Package docker runs matrix cells inside Docker containers.
//
// Each cell gets its own container, created from the image resolved for
// the cell's version and kept alive for the duration of the cell. Phase
// commands are executed through the Docker exec API, so shell state such
// as installed packages persists between commands of the same cell.
//
// Containers created by this package carry "lattice." labels that
// identify the run and cell they belong to, which allows leftover
// containers to be found and removed without any external state file.
package docker
