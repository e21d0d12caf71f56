package bot

import (
	"strings"
	"unicode/utf16"
)

// Telegram entity types the bot reacts to.
const (
	EntityURL        = "url"
	EntityTextLink   = "text_link"
	EntityBotCommand = "bot_command"
)

// Entity marks a span of message text. Offset and Length count UTF-16 code
// units, as Telegram sends them.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

// Update is an incoming chat message reduced to what the bot needs.
type Update struct {
	ChatID    int64
	MessageID int
	Text      string
	Entities  []Entity
}

// Command returns the bot command the message starts with, without the slash
// and bot mention, or "" when the message is not a command.
func (u Update) Command() string {
	for _, e := range u.Entities {
		if e.Type != EntityBotCommand || e.Offset != 0 {
			continue
		}
		cmd, ok := utf16Slice(u.Text, e.Offset, e.Length)
		if !ok {
			return ""
		}
		cmd = strings.TrimPrefix(cmd, "/")
		if name, _, found := strings.Cut(cmd, "@"); found {
			cmd = name
		}
		return strings.ToLower(cmd)
	}
	return ""
}

// URLs returns links in the order they appear: plain url entities are cut
// from the text, text_link entities contribute their target.
func (u Update) URLs() []string {
	var out []string
	for _, e := range u.Entities {
		switch e.Type {
		case EntityURL:
			if link, ok := utf16Slice(u.Text, e.Offset, e.Length); ok {
				out = append(out, link)
			}
		case EntityTextLink:
			if e.URL != "" {
				out = append(out, e.URL)
			}
		}
	}
	return out
}

func utf16Slice(text string, offset, length int) (string, bool) {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return "", false
	}
	return string(utf16.Decode(units[offset : offset+length])), true
}
