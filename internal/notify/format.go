package notify

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"time"

	"tgtg_watcher/internal/model"
)

const shareURL = "https://share.toogoodtogo.com/"

// Message is one item rendered for delivery.
type Message struct {
	ItemID string
	Text   string
	HTML   string
}

// Render formats an item as plain text and as telegram-compatible HTML.
// Pickup times are shown in loc relative to now.
func Render(it model.Item, loc *time.Location, now time.Time) Message {
	price := formatPrice(it.Price)
	pickup := formatInterval(it.Pickup, loc, now)

	text := fmt.Sprintf("%s\nPrice: %s\nQuantity: %d\nPickup: %s",
		it.DisplayName, price, it.Available, pickup)
	htmlMsg := fmt.Sprintf("<a href=\"%s\">🍽 %s</a>\n💰 %s\n🥡 %d\n⏰ %s",
		itemURL(it.ID), html.EscapeString(it.DisplayName), price, it.Available, pickup)

	return Message{ItemID: it.ID, Text: text, HTML: htmlMsg}
}

func itemURL(id string) string {
	return shareURL + "item/" + id
}

func formatPrice(p model.Price) string {
	return strconv.FormatFloat(p.Major(), 'f', -1, 64)
}

func formatInterval(p *model.PickupInterval, loc *time.Location, now time.Time) string {
	if p == nil {
		return "?"
	}
	return calendar(p.Start, loc, now) + " - " + calendar(p.End, loc, now)
}

// calendar formats t relative to the day of now, in loc.
func calendar(t time.Time, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	days := dayDiff(t, now.In(loc))

	clock := t.Format("15:04")
	switch {
	case days < -6:
		return t.Format("01/02/2006")
	case days < -1:
		return "Last Week " + t.Weekday().String() + " " + clock
	case days < 0:
		return "Yesterday " + clock
	case days < 1:
		return "Today " + clock
	case days < 2:
		return "Tomorrow " + clock
	case days < 7:
		return t.Weekday().String() + " " + clock
	default:
		return t.Format("01/02/2006")
	}
}

// dayDiff returns the number of calendar days from the day of ref to the day of t.
func dayDiff(t, ref time.Time) int {
	day := func(x time.Time) time.Time {
		return time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, x.Location())
	}
	return int(math.Round(day(t).Sub(day(ref)).Hours() / 24))
}
