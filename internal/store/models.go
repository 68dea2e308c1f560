package store

import "time"

type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	IsAdmin       bool      `json:"isAdmin"`
	IsSuperAdmin  bool      `json:"isSuperAdmin"`
	SaisenBalance int64     `json:"saisenBalance"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Credential maps an email to a bcrypt password hash.
type Credential struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

type Token struct {
	Token    string    `json:"token"`
	UserID   string    `json:"userId"`
	IssuedAt time.Time `json:"issuedAt"`
}

type BigFiveTraits struct {
	Openness          int `json:"openness"`
	Conscientiousness int `json:"conscientiousness"`
	Extraversion      int `json:"extraversion"`
	Agreeableness     int `json:"agreeableness"`
	Neuroticism       int `json:"neuroticism"`
}

type Personality struct {
	Personality               string         `json:"personality,omitempty"`
	SpeechStyle               string         `json:"speech_style,omitempty"`
	ActionStyle               string         `json:"action_style,omitempty"`
	Likes                     string         `json:"likes,omitempty"`
	Dislikes                  string         `json:"dislikes,omitempty"`
	RelationshipWithHumans    string         `json:"relationship_with_humans,omitempty"`
	RelationshipWithFollowers string         `json:"relationship_with_followers,omitempty"`
	Limitations               string         `json:"limitations,omitempty"`
	Scenario                  string         `json:"scenario,omitempty"`
	BigFiveTraits             *BigFiveTraits `json:"bigFiveTraits,omitempty"`
}

type God struct {
	ID              string      `json:"id"`
	CreatorID       string      `json:"creatorId"`
	CreatorUsername string      `json:"creatorUsername"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Category        string      `json:"category"`
	MBTIType        string      `json:"mbtiType"`
	Deity           string      `json:"deity"`
	Beliefs         string      `json:"beliefs"`
	SpecialSkills   string      `json:"special_skills"`
	Personality     Personality `json:"personality"`
	ColorTheme      string      `json:"colorTheme"`
	GeneratedPrompt string      `json:"generatedPrompt,omitempty"`
	BelieversCount  int         `json:"believersCount"`
	PowerLevel      int         `json:"powerLevel"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type MessageType string

const (
	MessageTypeGod      MessageType = "god"
	MessageTypeBeliever MessageType = "believer"
)

type Message struct {
	ID           string      `json:"id"`
	UserID       string      `json:"userId"`
	Username     string      `json:"username"`
	GodID        string      `json:"godId"`
	Message      string      `json:"message"`
	Response     *string     `json:"response,omitempty"`
	MessageType  MessageType `json:"messageType"`
	IsGodMessage bool        `json:"isGodMessage"`
	CreatedAt    time.Time   `json:"createdAt"`
}
