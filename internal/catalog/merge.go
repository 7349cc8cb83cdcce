package catalog

import "net/url"

// Entry is the material for one new button.
type Entry struct {
	// Filename is the final stored asset name including extension.
	Filename string
	Text     Text
	Volume   float64
	// Group is the target group's display name.
	Group string
	// Source is the originating video reference, or zero for uploads and
	// clips. The video id must be raw here; Merge encodes it.
	Source ButtonSource
}

// Merge locates or creates the group named by e.Group and appends a new
// button built from e. baseRoute is stamped onto newly created groups only.
// The returned button is the appended one.
//
// The source video id is URL-encoded here and nowhere else; it ends up
// embedded in front-end markup, and encoding twice would corrupt it.
func Merge(doc *Document, e Entry, baseRoute string) *Button {
	group := findGroup(doc, e.Group)
	if group == nil {
		group = &ButtonGroup{
			Name:      Text{ZhTw: e.Group, Ja: e.Group},
			BaseRoute: baseRoute,
			Buttons:   []Button{},
		}
		doc.ButtonGroups = append(doc.ButtonGroups, group)
	}

	src := e.Source
	src.VideoID = url.QueryEscape(src.VideoID)

	button := NewButton(e.Filename, e.Text, e.Volume, src)
	group.Buttons = append(group.Buttons, button)
	return &group.Buttons[len(group.Buttons)-1]
}

// findGroup matches on either language slot and backfills an empty
// secondary name from the primary one. Legacy documents carry groups with
// only the primary slot filled; repairing on read keeps the two-slot
// invariant without a separate migration.
func findGroup(doc *Document, name string) *ButtonGroup {
	for _, g := range doc.ButtonGroups {
		if g == nil {
			continue
		}
		if g.Name.ZhTw == name || g.Name.Ja == name {
			if g.Name.Ja == "" {
				g.Name.Ja = g.Name.ZhTw
			}
			return g
		}
	}
	return nil
}
