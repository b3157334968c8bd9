// Package recovery classifies failures into a fixed taxonomy and maps
// each kind to a recovery action: retry, recreate the backing resource,
// skip the current unit of work, or terminate the run.
package recovery
