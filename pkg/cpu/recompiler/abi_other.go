//go:build !windows

package recompiler

// HostABI is the calling convention of the platform this binary targets.
var HostABI = ABISysV
