// Package node defines the interface that all node executors must implement,
// the registry that maps a node's type tag to its executor, and the domain
// types exchanged between the graph engine and executor implementations.
package node
