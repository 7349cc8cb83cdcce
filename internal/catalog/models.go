// Package catalog models the per-collection button catalog document and
// implements the merge that appends newly published buttons to it.
package catalog

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Text is a bilingual label. Field names are wire-compatible with the
// front end's config schema.
type Text struct {
	ZhTw string `json:"zh-tw"`
	Ja   string `json:"ja"`
}

// Color is the collection's display theme.
type Color struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// Link holds the collection's outbound social links.
type Link struct {
	Youtube   string `json:"youtube,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	Discord   string `json:"discord,omitempty"`
	Other     string `json:"other,omitempty"`
}

// ButtonSource records where a button's audio came from: a video reference
// with an already URL-encoded id, or all-zero for uploads and clips.
type ButtonSource struct {
	VideoID string  `json:"videoId"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Button is one published sound button. Buttons are appended once and never
// mutated or removed by this pipeline.
type Button struct {
	ID        string       `json:"id"`
	Filename  string       `json:"filename"`
	Text      Text         `json:"text"`
	BaseRoute string       `json:"baseRoute,omitempty"`
	Volume    float64      `json:"volume"`
	Source    ButtonSource `json:"source"`
}

// NewButton builds a button with a fresh id. A zero volume is coerced to
// full volume; the front end treats 0 as muted, which is never intended.
func NewButton(filename string, text Text, volume float64, src ButtonSource) Button {
	if volume == 0 {
		volume = 1
	}
	return Button{
		ID:       uuid.NewString(),
		Filename: filename,
		Text:     text,
		Volume:   volume,
		Source:   src,
	}
}

// UnmarshalJSON applies the same zero-volume coercion to documents read
// back from storage, so legacy entries self-heal on the next write.
func (b *Button) UnmarshalJSON(data []byte) error {
	type alias Button
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Volume == 0 {
		a.Volume = 1
	}
	*b = Button(a)
	return nil
}

// ButtonGroup is a named subset of buttons. Its identity key is the
// primary-language display name.
type ButtonGroup struct {
	Name      Text     `json:"name"`
	BaseRoute string   `json:"baseRoute,omitempty"`
	Buttons   []Button `json:"buttons"`
}

// Document is the canonical per-collection catalog consumed by the front
// end, stored at {directory}/{directory}.json.
type Document struct {
	Name          string         `json:"name"`
	FullName      string         `json:"fullName"`
	FullConfigURL string         `json:"fullConfigURL"`
	ImgSrc        []string       `json:"imgSrc"`
	Intro         string         `json:"intro"`
	Color         *Color         `json:"color,omitempty"`
	Link          *Link          `json:"link,omitempty"`
	IntroButton   *Button        `json:"introButton,omitempty"`
	ButtonGroups  []*ButtonGroup `json:"buttonGroups"`
}
