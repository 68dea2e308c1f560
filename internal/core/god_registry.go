package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

// CreationCost is the saisen debited for every new god.
const CreationCost = 500

var ErrValidation = errors.New("validation failed")

// GodInput is the payload accepted when creating a god.
type GodInput struct {
	Name                      string               `json:"name"`
	Description               string               `json:"description"`
	Category                  string               `json:"category"`
	MBTIType                  string               `json:"mbtiType"`
	Deity                     string               `json:"deity"`
	Beliefs                   string               `json:"beliefs"`
	SpecialSkills             string               `json:"special_skills"`
	Personality               string               `json:"personality"`
	SpeechStyle               string               `json:"speech_style"`
	ActionStyle               string               `json:"action_style"`
	Likes                     string               `json:"likes"`
	Dislikes                  string               `json:"dislikes"`
	RelationshipWithHumans    string               `json:"relationship_with_humans"`
	RelationshipWithFollowers string               `json:"relationship_with_followers"`
	Limitations               string               `json:"limitations"`
	Scenario                  string               `json:"scenario"`
	BigFiveTraits             *store.BigFiveTraits `json:"bigFiveTraits"`
	ColorTheme                string               `json:"colorTheme"`
}

func (in GodInput) validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", in.Name},
		{"deity", in.Deity},
		{"beliefs", in.Beliefs},
		{"special_skills", in.SpecialSkills},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if t := in.BigFiveTraits; t != nil {
		for _, v := range []int{t.Openness, t.Conscientiousness, t.Extraversion, t.Agreeableness, t.Neuroticism} {
			if v < 0 || v > 100 {
				return fmt.Errorf("%w: big five traits must be between 0 and 100", ErrValidation)
			}
		}
	}
	return nil
}

type GodRegistry struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewGodRegistry(s *store.Store, logger *zap.Logger) *GodRegistry {
	return &GodRegistry{store: s, logger: logger, now: time.Now}
}

// Create stores a new god for creator and debits CreationCost. It returns the god and the
// creator's new balance. store.ErrInsufficientBalance is returned when the balance is short.
func (r *GodRegistry) Create(ctx context.Context, creator *store.User, in GodInput) (*store.God, int64, error) {
	if err := in.validate(); err != nil {
		return nil, 0, err
	}

	now := r.now().UTC()
	god := store.God{
		ID:              newID("god", now),
		CreatorID:       creator.ID,
		CreatorUsername: creator.Username,
		Name:            strings.TrimSpace(in.Name),
		Description:     cmp.Or(in.Description, in.Deity+" deity"),
		Category:        cmp.Or(in.Category, "general"),
		MBTIType:        cmp.Or(in.MBTIType, "INFJ"),
		Deity:           in.Deity,
		Beliefs:         in.Beliefs,
		SpecialSkills:   in.SpecialSkills,
		Personality: store.Personality{
			Personality:               in.Personality,
			SpeechStyle:               in.SpeechStyle,
			ActionStyle:               in.ActionStyle,
			Likes:                     in.Likes,
			Dislikes:                  in.Dislikes,
			RelationshipWithHumans:    in.RelationshipWithHumans,
			RelationshipWithFollowers: in.RelationshipWithFollowers,
			Limitations:               in.Limitations,
			Scenario:                  in.Scenario,
			BigFiveTraits:             in.BigFiveTraits,
		},
		ColorTheme:     cmp.Or(in.ColorTheme, "purple"),
		BelieversCount: 0,
		PowerLevel:     1,
		CreatedAt:      now,
	}
	god.GeneratedPrompt = DescribeGod(god)

	created, balance, err := r.store.CreateGodWithDebit(ctx, god, CreationCost)
	if err != nil {
		return nil, balance, err
	}

	r.logger.Info("God created",
		zap.String("god_id", created.ID),
		zap.String("creator_id", creator.ID),
		zap.Int64("new_balance", balance),
	)
	return created, balance, nil
}

func (r *GodRegistry) Get(ctx context.Context, id string) (*store.God, error) {
	return r.store.GetGod(ctx, id)
}

func (r *GodRegistry) ListByCreator(ctx context.Context, creatorID string) ([]store.God, error) {
	gods, err := r.store.ListGods(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(gods, func(g store.God) bool { return g.CreatorID != creatorID }), nil
}

// ListAll returns every god, newest first.
func (r *GodRegistry) ListAll(ctx context.Context) ([]store.God, error) {
	gods, err := r.store.ListGods(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(gods, func(a, b store.God) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return gods, nil
}

// DescribeGod renders a short persona description. Missing fields fall back to neutral defaults.
func DescribeGod(g store.God) string {
	p := g.Personality
	name := cmp.Or(g.Name, "This god")

	var b strings.Builder
	fmt.Fprintf(&b, "%s is %s, facing %s. ", name, cmp.Or(g.Deity, "a mysterious deity"), cmp.Or(p.Scenario, "the modern world"))
	fmt.Fprintf(&b, "%s believes in %q. ", name, cmp.Or(g.Beliefs, "compassion and wisdom"))
	fmt.Fprintf(&b, "%s is skilled at %s and their character is %q. ", name, cmp.Or(g.SpecialSkills, "guiding people"), cmp.Or(p.Personality, "kind and wise"))

	if t := p.BigFiveTraits; t != nil {
		fmt.Fprintf(&b, "Big Five traits: openness %d%%, conscientiousness %d%%, extraversion %d%%, agreeableness %d%%, neuroticism %d%%. ",
			t.Openness, t.Conscientiousness, t.Extraversion, t.Agreeableness, t.Neuroticism)
	}
	if g.MBTIType != "" {
		fmt.Fprintf(&b, "MBTI type is %s. ", g.MBTIType)
	}

	fmt.Fprintf(&b, "Speaks in a %s manner and acts %s. ", cmp.Or(p.SpeechStyle, "polite, warm"), cmp.Or(p.ActionStyle, "by gently guiding"))
	switch {
	case p.Likes != "" && p.Dislikes != "":
		fmt.Fprintf(&b, "%s likes %s and dislikes %s. ", name, p.Likes, p.Dislikes)
	case p.Likes != "":
		fmt.Fprintf(&b, "%s likes %s and treasures it. ", name, p.Likes)
	case p.Dislikes != "":
		fmt.Fprintf(&b, "%s dislikes %s. ", name, p.Dislikes)
	}

	fmt.Fprintf(&b, "Towards humans: %s. Towards followers: %s.",
		cmp.Or(p.RelationshipWithHumans, "approachable"), cmp.Or(p.RelationshipWithFollowers, "watches over them like family"))
	if p.Limitations != "" {
		fmt.Fprintf(&b, " %s is bound by: %s.", name, p.Limitations)
	}
	return b.String()
}
