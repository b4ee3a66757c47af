// ABOUTME: Main heapcore package providing version information and package documentation
// ABOUTME: This is the root package for the managed-heap memory core library

// Package heapcore provides the memory-management core of a managed-language
// runtime: the garbage-collected cell and heap model, the root-marking
// protocol, weak references, stable object identities, and the segmented
// dynamic array used by runtime object representations.
package heapcore

// Version is the semantic version of the heapcore library
const Version = "0.1.0-dev"
