// Package formatter renders news items into post text. Games are resolved
// through an ordered descriptor table keyed by identifier substrings; items
// from games not in the table are unsupported and must be discarded by the
// caller.
package formatter

import (
	"fmt"
	"strings"

	"github.com/pinapelz/rasis/internal/entity"
)

// GameDescriptor describes how posts for one game are rendered.
type GameDescriptor struct {
	// Match is the identifier substring that selects this game.
	Match string
	// DisplayName heads the rendered post.
	DisplayName string
	// Hashtags trail the rendered post.
	Hashtags []string
	// OmitHeadline drops the feed headline, some sources duplicate it
	// into the content.
	OmitHeadline bool
}

// games is ordered: first matching descriptor wins.
var games = []GameDescriptor{
	{Match: "IIDX", DisplayName: "beatmania IIDX", Hashtags: []string{"#iidx", "#beatmania", "#bemani"}},
	{Match: "SOUND_VOLTEX", DisplayName: "SOUND VOLTEX", Hashtags: []string{"#sdvx", "#soundvoltex", "#bemani"}},
	{Match: "DDR", DisplayName: "DanceDanceRevolution", Hashtags: []string{"#ddr", "#dancedancerevolution", "#bemani"}},
	{Match: "POPN_MUSIC", DisplayName: "pop'n music", Hashtags: []string{"#popn", "#bemani"}},
	{Match: "JUBEAT", DisplayName: "jubeat", Hashtags: []string{"#jubeat", "#bemani"}},
	{Match: "GITADORA", DisplayName: "GITADORA", Hashtags: []string{"#gitadora", "#bemani"}},
	{Match: "NOSTALGIA", DisplayName: "NOSTALGIA", Hashtags: []string{"#bemani"}},
	{Match: "CHUNITHM_JP", DisplayName: "CHUNITHM (JPN)", Hashtags: []string{"#chunithm"}, OmitHeadline: true},
	{Match: "CHUNITHM_INTL", DisplayName: "CHUNITHM (International)", Hashtags: []string{"#chunithm"}, OmitHeadline: true},
	{Match: "MAIMAIDX_JP", DisplayName: "maimai DX (JPN)", Hashtags: []string{"#maimaidx"}, OmitHeadline: true},
	{Match: "MAIMAIDX_INTL", DisplayName: "maimai DX (International)", Hashtags: []string{"#maimaidx"}, OmitHeadline: true},
	{Match: "ONGEKI_JPN", DisplayName: "O.N.G.E.K.I (JPN)", Hashtags: []string{"#ongeki"}, OmitHeadline: true},
}

// Lookup resolves the descriptor for an item identifier.
func Lookup(identifier string) (GameDescriptor, bool) {
	for _, g := range games {
		if strings.Contains(identifier, g.Match) {
			return g, true
		}
	}
	return GameDescriptor{}, false
}

// Render produces the post text for an item. The boolean is false for
// unsupported games, such items are discarded silently.
func Render(item *entity.NewsItem) (string, bool) {
	game, ok := Lookup(item.Identifier)
	if !ok {
		return "", false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📰 %s - %s\n\n", game.DisplayName, item.Date)
	if item.Type != "" {
		fmt.Fprintf(&b, "[%s] ", item.Type)
	}
	if !game.OmitHeadline && item.Headline != "" && item.Headline != item.Content {
		fmt.Fprintf(&b, "[%s]\n\n", item.Headline)
	}
	b.WriteString(item.Content)
	b.WriteString("\n\n")
	if item.URL != "" {
		fmt.Fprintf(&b, "🔗 %s\n", item.URL)
	}
	for i, img := range item.Images {
		fmt.Fprintf(&b, "🖼 [Image%d](%s)\n", i+1, img.Image)
	}
	b.WriteString(strings.Join(game.Hashtags, " "))
	return sanitizeUTF8(b.String()), true
}

// sanitizeUTF8 replaces invalid byte sequences, the publish endpoint
// rejects malformed UTF-8.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}
