// Package session implements the watch-party session relay: the canonical
// room state, the reducer that applies server messages to it, and the Relay
// that owns the upstream connection and the attached tab channel.
package session

import (
	"github.com/samber/lo"

	"github.com/quizparty/relay/lib/protocol"
)

// Session is the canonical in-memory room state. It is owned by the Relay's
// event loop; nothing else mutates it.
type Session struct {
	RoomCode     string
	SelfUsername string
	IsHost       bool

	Hosts       []string
	Scores      map[string]protocol.Score
	URLs        map[string]string
	Suggestions []protocol.Suggestion

	PollDraft       *protocol.PollData
	ActiveVote      *protocol.VoteData
	HasVotedLocally bool

	PendingSaveName string

	Queue         []protocol.QuizEntry
	QueueInterval int

	// LivePlay is true while a quiz round is in progress. Its only consumer
	// is the detach path, which must tell the server the player left an
	// active round.
	LivePlay bool
}

// NewSession returns an empty session.
func NewSession() *Session {
	s := &Session{}
	s.Reset()
	return s
}

// Reset clears every room-scoped field back to its empty default. Callers
// must have torn down the transport first; the tab client never observes a
// partially cleared state because the event loop runs to completion.
func (s *Session) Reset() {
	s.RoomCode = ""
	s.SelfUsername = ""
	s.IsHost = false
	s.Hosts = nil
	s.Scores = map[string]protocol.Score{}
	s.URLs = map[string]string{}
	s.Suggestions = nil
	s.PollDraft = nil
	s.ActiveVote = nil
	s.HasVotedLocally = false
	s.PendingSaveName = ""
	s.Queue = nil
	s.QueueInterval = 0
	s.LivePlay = false
}

// Snapshot is the full room state replayed to a tab client, and the reply to
// a connectionStatus query.
type Snapshot struct {
	Type          string                    `json:"type"`
	Connected     bool                      `json:"connected"`
	RoomCode      string                    `json:"room_code,omitempty"`
	Username      string                    `json:"username,omitempty"`
	Host          bool                      `json:"host"`
	Scores        map[string]protocol.Score `json:"scores,omitempty"`
	URLs          map[string]string         `json:"urls,omitempty"`
	Hosts         []string                  `json:"hosts,omitempty"`
	Suggestions   []protocol.Suggestion     `json:"suggestions,omitempty"`
	PollData      *protocol.PollData        `json:"poll_data,omitempty"`
	VoteData      *protocol.VoteData        `json:"vote_data,omitempty"`
	Queue         []protocol.QuizEntry      `json:"queue,omitempty"`
	QueueInterval int                       `json:"queue_interval,omitempty"`
}

// Snapshot copies the current state into a connectionStatus payload. Maps and
// slices are copied so the tab's view cannot alias the canonical state.
func (s *Session) Snapshot(connected bool) Snapshot {
	if !connected {
		return Snapshot{Type: protocol.TypeConnectionStatus, Connected: false}
	}
	return Snapshot{
		Type:          protocol.TypeConnectionStatus,
		Connected:     true,
		RoomCode:      s.RoomCode,
		Username:      s.SelfUsername,
		Host:          s.IsHost,
		Scores:        lo.Assign(map[string]protocol.Score{}, s.Scores),
		URLs:          lo.Assign(map[string]string{}, s.URLs),
		Hosts:         append([]string(nil), s.Hosts...),
		Suggestions:   append([]protocol.Suggestion(nil), s.Suggestions...),
		PollData:      s.PollDraft,
		VoteData:      s.ActiveVote,
		Queue:         append([]protocol.QuizEntry(nil), s.Queue...),
		QueueInterval: s.QueueInterval,
	}
}

// setHosts replaces the host set and re-derives IsHost. A demotion of the
// local user also drops the host-only artifacts (tracked URLs, suggestions,
// poll draft) the participant no longer owns.
func (s *Session) setHosts(hosts []string) {
	s.Hosts = lo.Uniq(hosts)
	wasHost := s.IsHost
	s.IsHost = lo.Contains(s.Hosts, s.SelfUsername)
	if wasHost && !s.IsHost {
		s.URLs = map[string]string{}
		s.Suggestions = nil
		s.PollDraft = nil
	}
}

// addSuggestion appends a suggestion unless an entry equal under the 4-tuple
// identity is already present. Reports whether the suggestion was added.
func (s *Session) addSuggestion(sug protocol.Suggestion) bool {
	if lo.Contains(s.Suggestions, sug) {
		return false
	}
	s.Suggestions = append(s.Suggestions, sug)
	return true
}

// removeSuggestion drops the entry matching the 4-tuple. Removing an absent
// entry is a no-op.
func (s *Session) removeSuggestion(sug protocol.Suggestion) {
	s.Suggestions = lo.Filter(s.Suggestions, func(existing protocol.Suggestion, _ int) bool {
		return existing != sug
	})
}
