package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/vnutour/tourbot/internal/music"
)

// Embed sidebar colors.
const (
	embedColorGreen = 0x2ECC71
	embedColorBlue  = 0x3498DB
	embedColorRed   = 0xE74C3C
	embedColorGrey  = 0x95A5A6
)

// queuePageSize is the number of upcoming tracks listed in the queue embed.
const queuePageSize = 10

// progressWidth is the number of cells in the now-playing progress bar.
const progressWidth = 20

// NowPlayingEmbed renders the announcement for a track that just started, or
// the /nowplaying view when position is non-zero.
func NowPlayingEmbed(t music.Track, position time.Duration, volume float64, queued int) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: trackLink(t),
		Color:       embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: t.DurationString(), Inline: true},
			{Name: "Requested by", Value: mention(t.RequestedBy), Inline: true},
			{Name: "Volume", Value: VolumePercent(volume), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d track(s) in queue", queued)},
	}
	if t.Artist != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Artist", Value: t.Artist, Inline: true})
	}
	if t.Uploader != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Uploader", Value: t.Uploader, Inline: true})
	}
	if t.ViewCount > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Views", Value: formatCount(t.ViewCount), Inline: true})
	}
	if position > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Progress", Value: ProgressBar(position, t.Duration)})
	}
	if t.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return e
}

// QueueEmbed renders the /queue view of a session.
func QueueEmbed(snap music.Snapshot) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: "Queue", Color: embedColorBlue}

	var b strings.Builder
	if snap.NowPlaying != nil {
		state := "Playing"
		if snap.Paused {
			state = "Paused"
		}
		fmt.Fprintf(&b, "**%s:** %s `%s / %s`\n\n", state, trackLink(*snap.NowPlaying),
			music.FormatDuration(snap.Position), snap.NowPlaying.DurationString())
	}

	if len(snap.Queue) == 0 {
		b.WriteString("Nothing queued.")
	} else {
		lines := lo.Map(lo.Slice(snap.Queue, 0, queuePageSize), func(t music.Track, idx int) string {
			return fmt.Sprintf("`%d.` %s `%s` %s", idx+1, trackLink(t), t.DurationString(), mention(t.RequestedBy))
		})
		b.WriteString(strings.Join(lines, "\n"))
		if rest := len(snap.Queue) - queuePageSize; rest > 0 {
			fmt.Fprintf(&b, "\n...and %d more", rest)
		}
	}
	e.Description = b.String()

	total := lo.SumBy(snap.Queue, func(t music.Track) time.Duration { return t.Duration })
	unknown := lo.CountBy(snap.Queue, func(t music.Track) bool { return t.Duration <= 0 })
	footer := fmt.Sprintf("%d track(s), %s total, volume %s", len(snap.Queue), music.FormatDuration(total), VolumePercent(snap.Volume))
	if unknown > 0 {
		footer += fmt.Sprintf(" (%d of unknown length)", unknown)
	}
	e.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	return e
}

// TrackFailedEmbed reports a track that could not be played.
func TrackFailedEmbed(t music.Track, err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Could not play track",
		Description: trackLink(t),
		Color:       embedColorRed,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reason", Value: truncate(errText(err), 1024)},
		},
	}
}

// ProgressBar renders position within duration as a fixed-width bar. With
// an unknown duration only the elapsed time is shown.
func ProgressBar(position, duration time.Duration) string {
	if duration <= 0 {
		return fmt.Sprintf("`%s / live`", music.FormatDuration(position))
	}
	filled := int(float64(progressWidth) * float64(min(position, duration)) / float64(duration))
	bar := strings.Repeat("▬", filled) + "🔘" + strings.Repeat("▬", progressWidth-filled)
	return fmt.Sprintf("%s `%s / %s`", bar, music.FormatDuration(position), music.FormatDuration(duration))
}

// VolumePercent renders a volume multiplier as a percentage.
func VolumePercent(v float64) string {
	return strconv.Itoa(int(v*100+0.5)) + "%"
}

func trackLink(t music.Track) string {
	title := EscapeMarkdown(t.Title)
	if t.PageURL == "" {
		return "**" + title + "**"
	}
	return fmt.Sprintf("**[%s](%s)**", title, t.PageURL)
}

func mention(userID string) string {
	if userID == "" {
		return "unknown"
	}
	return "<@" + userID + ">"
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	}
	return strconv.FormatInt(n, 10)
}

var markdownEscaper = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "~", `\~`, "[", `\[`, "]", `\]`)

// EscapeMarkdown escapes characters Discord treats as formatting.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
