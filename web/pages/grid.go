// Package pages holds the HTML views of the pin photo grid.
package pages

import "strconv"

// GridPhoto is one cell of the grid page.
type GridPhoto struct {
	Index    int
	ImageURL string
	HasImage bool
	Selected bool
}

type GridPage struct {
	Latitude  string
	Longitude string
	// Query is the encoded coordinate query shared by every form on the page.
	Query       string
	Photos      []GridPhoto
	ActionLabel string
	CanRequest  bool
	NoImages    bool
	Failed      bool
}

func selectionURL(page GridPage, photo GridPhoto) string {
	return "/pins/view/selection/" + strconv.Itoa(photo.Index) + "?" + page.Query
}

func actionURL(page GridPage) string {
	return "/pins/view/action?" + page.Query
}

func photoAlt(photo GridPhoto) string {
	return "photo " + strconv.Itoa(photo.Index)
}
