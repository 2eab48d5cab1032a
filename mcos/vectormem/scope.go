package vectormem

import (
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/store"
)

type scopeKind int

const (
	scopeWholeUser scopeKind = iota
	scopeChatOnly
	scopeProfileOnly
)

// Scope narrows a query or delete to a metadata region. Every scope is
// anchored to a user id at call time; tenant isolation is not optional.
type Scope struct {
	kind   scopeKind
	chatID string
}

// WholeUser covers everything the user owns.
func WholeUser() Scope { return Scope{kind: scopeWholeUser} }

// ChatOnly covers one chat of the user.
func ChatOnly(chatID string) Scope { return Scope{kind: scopeChatOnly, chatID: chatID} }

// ProfileOnly covers the user's profile records.
func ProfileOnly() Scope { return Scope{kind: scopeProfileOnly} }

// IsChatScoped reports whether the scope targets a single chat.
func (s Scope) IsChatScoped() bool { return s.kind == scopeChatOnly }

// ChatID returns the chat id for chat-scoped scopes, "" otherwise.
func (s Scope) ChatID() string { return s.chatID }

func (s Scope) filter(userID string) store.RecordFilter {
	f := store.RecordFilter{UserID: userID}
	switch s.kind {
	case scopeChatOnly:
		f.ChatID = s.chatID
	case scopeProfileOnly:
		f.Kind = memory.KindProfile
	}
	return f
}
