package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/getAlby/knostr.go/lib/sign"
	"github.com/nbd-wtf/go-nostr"
	"github.com/uptrace/bun"
)

const (
	KindSetMetadata   = 0
	KindContactList   = 3
	KindEventDeletion = 5

	EphemeralKindMin = 20000
	EphemeralKindMax = 29999
)

// Tags : ordered list of tag arrays, e.g. ["e", <event id>, <relay url>]
type Tags [][]string

// MarshalJSON keeps empty tags as [] so clients never see null.
func (t Tags) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([][]string(t))
}

func (t Tags) toNostr() nostr.Tags {
	tags := make(nostr.Tags, 0, len(t))
	for _, tag := range t {
		tags = append(tags, nostr.Tag(tag))
	}
	return tags
}

// Event : Event Model
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID        string `json:"id" bun:"event_id,pk" validate:"required,len=64,hexadecimal"`
	PubKey    string `json:"pubkey" bun:"pubkey,notnull" validate:"required,len=64,hexadecimal"`
	CreatedAt int64  `json:"created_at" bun:"created_at,notnull"`
	Kind      int    `json:"kind" bun:"kind,notnull" validate:"gte=0"`
	Tags      Tags   `json:"tags" bun:"tags,type:jsonb,notnull"`
	Content   string `json:"content" bun:"content,notnull"`
	Sig       string `json:"sig" bun:"sig,notnull" validate:"required,len=128,hexadecimal"`
	Deleted   bool   `json:"-" bun:"deleted,notnull,default:false"`
}

// Serialize returns the canonical [0,pubkey,created_at,kind,tags,content]
// array the event id is computed from.
func (e *Event) Serialize() []byte {
	ev := nostr.Event{
		PubKey:    e.PubKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      e.Tags.toNostr(),
		Content:   e.Content,
	}
	return ev.Serialize()
}

func (e *Event) ContentHash() [32]byte {
	return sha256.Sum256(e.Serialize())
}

func (e *Event) HasValidID() bool {
	hash := e.ContentHash()
	return hex.EncodeToString(hash[:]) == e.ID
}

// HasValidSignature checks sig against the computed hash, not against the
// stored id.
func (e *Event) HasValidSignature() bool {
	hash := e.ContentHash()
	return sign.VerifyHex(hash[:], e.PubKey, e.Sig)
}

func (e *Event) IsValid() bool {
	return e.HasValidID() && e.HasValidSignature()
}

func (e *Event) ShouldBeDeleted() bool {
	return e.Kind == KindEventDeletion
}

// ShouldOverwrite is true for replaceable kinds: only the newest event per
// (pubkey, kind) is retained.
func (e *Event) ShouldOverwrite() bool {
	return e.Kind == KindSetMetadata || e.Kind == KindContactList
}

// IsEphemeral events are broadcast to live subscribers and never stored.
func (e *Event) IsEphemeral() bool {
	return e.Kind >= EphemeralKindMin && e.Kind <= EphemeralKindMax
}

// ReferencedEventIDs returns the ids of all "e" tags, without duplicates.
func (e *Event) ReferencedEventIDs() []string {
	seen := make(map[string]struct{})
	ids := []string{}
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if _, ok := seen[tag[1]]; ok {
			continue
		}
		seen[tag[1]] = struct{}{}
		ids = append(ids, tag[1])
	}
	return ids
}

// TagValues returns the second element of every tag named key.
func (e *Event) TagValues(key string) []string {
	values := []string{}
	for _, tag := range e.Tags {
		if len(tag) > 1 && tag[0] == key {
			values = append(values, tag[1])
		}
	}
	return values
}
