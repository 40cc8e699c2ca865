package announce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"streamwatch/internal/monitor"
	"streamwatch/internal/transport"
)

const (
	DefaultChannelURL = "https://www.twitch.tv/{login}"
	DefaultTimeLayout = "2006-01-02 15:04 MST"
)

type Config struct {
	// ChannelURL is a link template; {login} is replaced with the channel login.
	ChannelURL string
	// Location is the display timezone when a channel has no override.
	Location    *time.Location
	TimeLayout  string
	ImageWidth  int
	ImageHeight int
}

// Renderer builds live and summary cards for a channel.
type Renderer struct {
	cfg Config
}

func New(cfg Config) *Renderer {
	if strings.TrimSpace(cfg.ChannelURL) == "" {
		cfg.ChannelURL = DefaultChannelURL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TimeLayout == "" {
		cfg.TimeLayout = DefaultTimeLayout
	}
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = 1920
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = 1080
	}
	return &Renderer{cfg: cfg}
}

// Live renders the in-session announcement.
func (r *Renderer) Live(ch *monitor.MonitoredChannel, snap monitor.StreamSnapshot, now time.Time) transport.Content {
	name := displayName(ch, snap)
	url := r.channelURL(ch, snap)

	title := strings.TrimSpace(snap.Title)
	if title == "" {
		title = "Untitled broadcast"
	}

	playing := monitor.NormalizeActivity(snap.ActivityName)
	if playing == monitor.NoActivity {
		playing = "No Game"
	}

	return transport.Content{
		Headline: name + " is live!",
		Notify:   true,
		Card: transport.Card{
			Author:    name + " is live",
			AuthorURL: url,
			Title:     title,
			URL:       url,
			Fields: []transport.Field{
				{Name: "Playing", Value: playing, Inline: true},
				{Name: "Viewers", Value: humanize.Comma(int64(snap.ViewerCount)), Inline: true},
			},
			ImageURL: r.previewURL(snap.ThumbnailTemplate, now),
			Footer:   "Live for " + FormatDuration(now.Sub(snap.CreatedAt)),
		},
	}
}

// Summary renders the post-session card. The broadcast headline is dropped.
func (r *Renderer) Summary(ch *monitor.MonitoredChannel, profileImage string) transport.Content {
	name := displayName(ch, monitor.StreamSnapshot{})
	loc := ch.Location(r.cfg.Location)

	desc := strings.Join([]string{
		"Started at: " + ch.SessionStart.In(loc).Format(r.cfg.TimeLayout),
		"Ended at: " + ch.SessionEnd.In(loc).Format(r.cfg.TimeLayout),
		"Total time: " + FormatDuration(ch.SessionEnd.Sub(ch.SessionStart)),
	}, "\n")

	return transport.Content{
		Card: transport.Card{
			Author:       name + " was live",
			AuthorURL:    r.channelURL(ch, monitor.StreamSnapshot{}),
			Description:  desc,
			ThumbnailURL: profileImage,
		},
	}
}

func (r *Renderer) channelURL(ch *monitor.MonitoredChannel, snap monitor.StreamSnapshot) string {
	login := strings.TrimSpace(snap.Login)
	if login == "" {
		login = strings.ToLower(strings.TrimSpace(ch.DisplayName))
	}
	if login == "" {
		login = ch.ID
	}
	return strings.ReplaceAll(r.cfg.ChannelURL, "{login}", login)
}

// previewURL fills the size placeholders and appends a cache-buster so
// platforms refetch the frame on every edit.
func (r *Renderer) previewURL(template string, now time.Time) string {
	template = strings.TrimSpace(template)
	if template == "" {
		return ""
	}
	u := strings.NewReplacer(
		"{width}", strconv.Itoa(r.cfg.ImageWidth),
		"{height}", strconv.Itoa(r.cfg.ImageHeight),
	).Replace(template)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "t=" + strconv.FormatInt(now.Unix(), 10)
}

func displayName(ch *monitor.MonitoredChannel, snap monitor.StreamSnapshot) string {
	if n := strings.TrimSpace(ch.DisplayName); n != "" {
		return n
	}
	if n := strings.TrimSpace(snap.Login); n != "" {
		return n
	}
	return ch.ID
}

// FormatDuration renders d as "2 hours 5 minutes", dropping seconds once
// the duration reaches a minute.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return plural(int(d.Seconds()), "second")
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h == 0:
		return plural(m, "minute")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
