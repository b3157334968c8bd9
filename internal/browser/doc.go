// Package browser manages the pool of headless browser instances and
// the retry-wrapped page interaction primitives built on top of them.
package browser
