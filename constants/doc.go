// Package constants holds the CI visibility tag names and span types shared
// by the client, the in-process engine and the tooling.
package constants
