// Package component provides ordered lifecycle management.
//
// A Registry starts components in registration order and stops them in
// reverse. The pipeline coordinator registers its stages sink first, so
// starting the registry enables downstream stages before upstream ones and
// stopping it disables sources before sinks.
package component
