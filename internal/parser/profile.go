package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoProfileCard = errors.New("no profile-card div found")
	ErrNoTimeline    = errors.New("no timeline div found")
)

// Profile is the health-check relevant part of a nitter profile page.
type Profile struct {
	Name      string
	PostCount int
}

// ParseProfile extracts the account handle and the number of visible timeline
// posts from a profile page.
func ParseProfile(html string) (Profile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Profile{}, fmt.Errorf("parsing profile html: %w", err)
	}

	card := doc.Find(".profile-card-username").First()
	if card.Length() == 0 {
		return Profile{}, ErrNoProfileCard
	}

	timeline := doc.Find(".timeline").First()
	if timeline.Length() == 0 {
		return Profile{}, ErrNoTimeline
	}

	return Profile{
		Name:      card.Text(),
		PostCount: timeline.Find(".timeline-item").Length(),
	}, nil
}

// Valid reports whether the profile matches the expected handle and carries
// at least minPosts visible posts.
func (p Profile) Valid(expectedName string, minPosts int) bool {
	return p.Name == expectedName && p.PostCount >= minPosts
}
