// Package sites defines the adapter surface between the record
// processor and a concrete lookup site. Selectors, URLs, and page
// structure live entirely behind the Adapter; the core never sees
// them.
package sites

import (
	"context"
	"errors"
)

// ErrNoValue reports that the result region rendered but carried no
// usable value.
var ErrNoValue = errors.New("result carries no value")

// ErrBlocked reports that the site served a block or challenge page
// instead of the lookup surface.
var ErrBlocked = errors.New("lookup page blocked")

// Page is the minimal surface an adapter needs to drive a browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Submit(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
}

// Adapter drives one lookup site through a page.
type Adapter interface {
	// Navigate opens the lookup surface.
	Navigate(ctx context.Context, page Page) error
	// Search submits term into the site's search affordance.
	Search(ctx context.Context, page Page, term string) error
	// WaitForResult blocks until the result region has rendered.
	WaitForResult(ctx context.Context, page Page) error
	// ExtractValue returns the raw candidate value from the result
	// region, or ErrNoValue when the region is empty.
	ExtractValue(ctx context.Context, page Page) (string, error)
}
