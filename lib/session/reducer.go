package session

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/quizparty/relay/lib/protocol"
)

// Effect is what a reducer step asks the relay to do beyond forwarding the
// message. The reducer itself never touches the transport.
type Effect struct {
	// Teardown means the session is over (room closed, or the local user was
	// removed): close the transport and reset state after forwarding.
	Teardown bool
	// DropForward suppresses forwarding to the tab. Only duplicate
	// suggestions set it: the relay is the deduplication authority and a tab
	// must never render the same suggestion twice.
	DropForward bool
	// SaveData is the save_room confirmation payload, to be persisted under
	// the pending save name.
	SaveData json.RawMessage
}

// ApplyServerMessage applies one inbound server message to the session. Every
// known message type maps to exactly one transition; unrecognized types leave
// the state untouched and are forwarded anyway, which keeps the relay
// compatible with server-side protocol additions.
//
// Extraction is best effort: a malformed-but-well-typed message applies
// whatever fields decoded and never fails.
func (s *Session) ApplyServerMessage(env protocol.Envelope) Effect {
	switch env.Type {
	case protocol.TypeHostsUpdate:
		var msg protocol.HostsUpdate
		_ = env.Payload(&msg)
		hosts := s.Hosts
		switch {
		case msg.Added != nil:
			hosts = append(hosts, *msg.Added)
		case msg.Removed != nil:
			hosts = lo.Filter(hosts, func(name string, _ int) bool { return name != *msg.Removed })
		}
		s.setHosts(hosts)

	case protocol.TypeHostPromotion:
		var msg protocol.HostPromotion
		_ = env.Payload(&msg)
		s.IsHost = true
		if !lo.Contains(s.Hosts, s.SelfUsername) {
			s.Hosts = append(s.Hosts, s.SelfUsername)
		}
		// A promoted host needs state a plain participant never tracked.
		if msg.URLs != nil {
			s.URLs = msg.URLs
		}
		if msg.QuizQueue != nil {
			s.Queue = msg.QuizQueue
		}
		s.PollDraft = msg.PollData

	case protocol.TypeScoresUpdate:
		var msg protocol.ScoresUpdate
		_ = env.Payload(&msg)
		if msg.Scores != nil {
			s.Scores = msg.Scores
		}

	case protocol.TypeUsersUpdate:
		var msg protocol.UsersUpdate
		_ = env.Payload(&msg)
		if msg.Scores != nil {
			s.Scores = msg.Scores
		}
		if msg.Users != nil {
			hosts := lo.Keys(lo.PickBy(msg.Users, func(_ string, u protocol.User) bool { return u.Host }))
			s.setHosts(hosts)
		}

	case protocol.TypeURLUpdate:
		var msg protocol.URLUpdate
		_ = env.Payload(&msg)
		if msg.Username != "" {
			s.URLs[msg.Username] = msg.URL
		}

	case protocol.TypeSuggestQuiz:
		var sug protocol.Suggestion
		_ = env.Payload(&sug)
		if !s.addSuggestion(sug) {
			return Effect{DropForward: true}
		}

	case protocol.TypePollCreate, protocol.TypePollDataUpdate:
		var msg protocol.PollUpdate
		_ = env.Payload(&msg)
		s.PollDraft = msg.PollData

	case protocol.TypePollStart:
		var msg protocol.PollStart
		_ = env.Payload(&msg)
		s.PollDraft = nil
		s.ActiveVote = msg.VoteData
		s.HasVotedLocally = false

	case protocol.TypeVoteUpdate:
		var msg protocol.VoteUpdate
		_ = env.Payload(&msg)
		// Wholesale replace; a finished vote keeps its winner until the user
		// dismisses it with clearVoteData.
		s.ActiveVote = msg.VoteData

	case protocol.TypeQueueUpdate:
		var msg protocol.QueueUpdate
		_ = env.Payload(&msg)
		s.Queue = msg.Queue
		if msg.Interval != nil {
			s.QueueInterval = *msg.Interval
		}

	case protocol.TypeChangeQueueInterval:
		var msg protocol.ChangeQueueInterval
		_ = env.Payload(&msg)
		s.QueueInterval = msg.Interval

	case protocol.TypeStartQuiz:
		s.LivePlay = true

	case protocol.TypeQuizFinished:
		s.LivePlay = false

	case protocol.TypeRemovedFromRoom:
		var msg protocol.RemovedFromRoom
		_ = env.Payload(&msg)
		if msg.Username == s.SelfUsername {
			return Effect{Teardown: true}
		}
		delete(s.URLs, msg.Username)
		s.setHosts(lo.Filter(s.Hosts, func(name string, _ int) bool { return name != msg.Username }))

	case protocol.TypeRoomClosed:
		return Effect{Teardown: true}

	case protocol.TypeSaveRoom:
		var msg protocol.SaveRoomReply
		_ = env.Payload(&msg)
		return Effect{SaveData: protocol.Marshal(msg.SaveData)}
	}

	// Everything else (start_countdown, change_quiz, live_scores_update,
	// error, unknown types) is forward-only.
	return Effect{}
}

// ApplyLocalAction updates the derived flags certain tab actions latch before
// the message is forwarded to the server. Connection-initiation actions and
// the purely local actions (removeSuggestion, saveName, clearVoteData) are
// handled by the relay, not here.
func (s *Session) ApplyLocalAction(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLiveScoresUpdate:
		var msg protocol.LiveScoresUpdate
		_ = env.Payload(&msg)
		s.LivePlay = !msg.Finished

	case protocol.TypePollCreate, protocol.TypePollDataUpdate:
		var msg protocol.PollUpdate
		_ = env.Payload(&msg)
		s.PollDraft = msg.PollData

	case protocol.TypePollVote:
		// Optimistic: block double submission before the server confirms.
		s.HasVotedLocally = true
	}
}

// applyHandshakeReply folds the affirmative handshake reply into the session.
// Reported ok=false means the server rejected the initiation and the caller
// must tear the transport down.
func (s *Session) applyHandshakeReply(initType string, env protocol.Envelope) (ok bool) {
	switch initType {
	case protocol.TypeCreateRoom, protocol.TypeLoadRoom:
		var msg protocol.CreateRoomReply
		_ = env.Payload(&msg)
		s.RoomCode = msg.RoomCode
		s.Hosts = []string{s.SelfUsername}
		s.IsHost = true
		return true

	case protocol.TypeJoinRoom:
		var msg protocol.JoinRoomReply
		_ = env.Payload(&msg)
		if !msg.Success {
			return false
		}
		s.setHosts(msg.Hosts)
		return true
	}
	return false
}
