package core

import (
	"cmp"
	"fmt"
	"strings"

	"kami.app/kami-server/internal/store"
)

// PromptOptions holds the reply rules embedded in every chat prompt.
type PromptOptions struct {
	Language      string
	MaxReplyChars int
}

// BuildChatPrompt assembles the persona prompt for one chat turn. history is expected
// oldest first and is embedded as given.
func BuildChatPrompt(god store.God, history []Exchange, message string, opts PromptOptions) string {
	p := god.Personality
	name := cmp.Or(god.Name, "the god")
	language := cmp.Or(opts.Language, "Japanese")
	maxChars := opts.MaxReplyChars
	if maxChars <= 0 {
		maxChars = 150
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a god named %q.\n\n", name)

	b.WriteString("[Profile]\n")
	fmt.Fprintf(&b, "Deity: %s\n", cmp.Or(god.Deity, "a mysterious deity"))
	fmt.Fprintf(&b, "Beliefs: %s\n", cmp.Or(god.Beliefs, "compassion and wisdom"))
	fmt.Fprintf(&b, "Special skills: %s\n", cmp.Or(god.SpecialSkills, "guiding people"))
	fmt.Fprintf(&b, "Power level: %d\n\n", max(god.PowerLevel, 1))

	b.WriteString("[Personality]\n")
	fmt.Fprintf(&b, "Character: %s\n", cmp.Or(p.Personality, god.Description, "kind and full of wisdom"))
	fmt.Fprintf(&b, "Speech style: %s\n", cmp.Or(p.SpeechStyle, "polite and warm"))
	fmt.Fprintf(&b, "Action style: %s\n", cmp.Or(p.ActionStyle, "guides gently"))
	fmt.Fprintf(&b, "MBTI type: %s\n\n", cmp.Or(god.MBTIType, "ENFJ"))

	b.WriteString("[Preferences and relationships]\n")
	fmt.Fprintf(&b, "Likes: %s\n", cmp.Or(p.Likes, "people who keep trying"))
	fmt.Fprintf(&b, "Dislikes: %s\n", cmp.Or(p.Dislikes, "giving up"))
	fmt.Fprintf(&b, "Towards humans: %s\n", cmp.Or(p.RelationshipWithHumans, "friendly and approachable"))
	fmt.Fprintf(&b, "Towards followers: %s\n\n", cmp.Or(p.RelationshipWithFollowers, "watches over them like family"))

	if p.Limitations != "" {
		fmt.Fprintf(&b, "[Limitations]\n%s\n\n", p.Limitations)
	}

	if t := p.BigFiveTraits; t != nil {
		b.WriteString("[Big Five traits]\n")
		fmt.Fprintf(&b, "Openness: %d%%\n", t.Openness)
		fmt.Fprintf(&b, "Conscientiousness: %d%%\n", t.Conscientiousness)
		fmt.Fprintf(&b, "Extraversion: %d%%\n", t.Extraversion)
		fmt.Fprintf(&b, "Agreeableness: %d%%\n", t.Agreeableness)
		fmt.Fprintf(&b, "Neuroticism: %d%%\n\n", t.Neuroticism)
	}

	fmt.Fprintf(&b, "[Background]\n%s\n\n", cmp.Or(p.Scenario, "a god who has descended into the modern world"))

	b.WriteString("Follow these rules when replying:\n")
	b.WriteString("1. Stay fully in character as described above.\n")
	b.WriteString("2. Keep the configured speech style.\n")
	fmt.Fprintf(&b, "3. Reply in %s.\n", language)
	b.WriteString("4. Stay close to the person's worries and advise them according to your beliefs.\n")
	b.WriteString("5. Use your special skills in your advice.\n")
	b.WriteString("6. The higher your power level, the deeper and stronger your message.\n")
	fmt.Fprintf(&b, "7. Keep the reply within %d characters.\n", maxChars)
	b.WriteString("8. Reflect your likes and values.\n")
	b.WriteString("9. Respect your limitations, if any.\n\n")

	b.WriteString("Conversation so far:\n")
	for i, h := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Human: %s\n%s: %s\n", h.Message, name, h.Response)
	}

	fmt.Fprintf(&b, "\nCurrent message: %s\n\n", message)
	fmt.Fprintf(&b, "Reply to the person as %s, following the settings above:", name)
	return b.String()
}
