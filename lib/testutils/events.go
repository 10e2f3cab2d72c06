// Package testutils builds signed events and fake sessions for tests.
package testutils

import (
	"time"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/nbd-wtf/go-nostr"
)

// Signer holds a freshly generated key pair.
type Signer struct {
	PrivateKey string
	PublicKey  string
}

func NewSigner() *Signer {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		panic(err)
	}
	return &Signer{PrivateKey: sk, PublicKey: pk}
}

// Event signs a new event. A zero createdAt means now.
func (s *Signer) Event(kind int, createdAt int64, tags models.Tags, content string) models.Event {
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      kind,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	for _, tag := range tags {
		ev.Tags = append(ev.Tags, nostr.Tag(tag))
	}
	if err := ev.Sign(s.PrivateKey); err != nil {
		panic(err)
	}
	return FromNostr(ev)
}

// Note signs a kind 1 text note.
func (s *Signer) Note(content string) models.Event {
	return s.Event(1, 0, nil, content)
}

func FromNostr(ev nostr.Event) models.Event {
	tags := models.Tags{}
	for _, tag := range ev.Tags {
		tags = append(tags, []string(tag))
	}
	return models.Event{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
}
