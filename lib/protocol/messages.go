// Package protocol defines the JSON messages spoken on both sides of the
// relay: the wire protocol to the remote room server and the local channel to
// the tab client. Field names are an external contract with the existing
// server and content script and must not change.
package protocol

import "encoding/json"

// Server / wire message types.
const (
	TypeCreateRoom          = "create_room"
	TypeJoinRoom            = "join_room"
	TypeLoadRoom            = "load_room"
	TypeHostsUpdate         = "hosts_update"
	TypeHostPromotion       = "host_promotion"
	TypeScoresUpdate        = "scores_update"
	TypeUsersUpdate         = "users_update"
	TypeURLUpdate           = "url_update"
	TypeSuggestQuiz         = "suggest_quiz"
	TypeRemovedFromRoom     = "removed_from_room"
	TypeSaveRoom            = "save_room"
	TypeLeaveRoom           = "leave_room"
	TypePollCreate          = "poll_create"
	TypePollDataUpdate      = "poll_data_update"
	TypePollStart           = "poll_start"
	TypePollVote            = "poll_vote"
	TypeVoteUpdate          = "vote_update"
	TypeQueueUpdate         = "queue_update"
	TypeChangeQueueInterval = "change_queue_interval"
	TypeStartCountdown      = "start_countdown"
	TypeStartQuiz           = "start_quiz"
	TypeQuizFinished        = "quiz_finished"
	TypeChangeQuiz          = "change_quiz"
	TypeLiveScoresUpdate    = "live_scores_update"
	TypePageDisconnect      = "page_disconnect"
	TypeRoomClosed          = "room_closed"
	TypeError               = "error"
)

// Local channel message types (tab client <-> relay only, never on the wire).
const (
	TypeConnectionStatus = "connectionStatus"
	TypeStartConnection  = "startConnection"
	TypeRemoveSuggestion = "removeSuggestion"
	TypeSaveName         = "saveName"
	TypeClearVoteData    = "clearVoteData"
	TypeConnectionClosed = "connection_closed"
	TypeOptionsChanged   = "optionsChanged"
)

// Envelope is a decoded message: its type tag plus the raw bytes, so the
// relay can update state from the fields it knows about and still forward the
// message verbatim.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode peeks the type tag of a JSON message without interpreting the rest.
func Decode(data []byte) (Envelope, error) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: peek.Type, Raw: json.RawMessage(data)}, nil
}

// Payload unmarshals the full message into v. Extraction is best effort:
// fields absent from the message keep their zero values.
func (e Envelope) Payload(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Score is one participant's leaderboard entry.
type Score struct {
	Score int `json:"score"`
	Wins  int `json:"wins"`
}

// QuizEntry identifies a quiz on the external site.
type QuizEntry struct {
	URL        string `json:"url"`
	ShortTitle string `json:"short_title"`
	LongTitle  string `json:"long_title"`
}

// Suggestion is a quiz proposed by a participant, identified by the full
// 4-tuple of its fields.
type Suggestion struct {
	Username   string `json:"username"`
	URL        string `json:"url"`
	ShortTitle string `json:"short_title"`
	LongTitle  string `json:"long_title"`
}

// PollData is a poll being assembled by a host before it is sent to the room.
type PollData struct {
	Duration int         `json:"duration"`
	Entries  []QuizEntry `json:"entries"`
}

// VoteData is the state of a started poll.
type VoteData struct {
	Poll          *PollData  `json:"poll,omitempty"`
	StartTime     int64      `json:"start_time"`
	Duration      int        `json:"duration"`
	ResponseCount int        `json:"response_count"`
	NumVoters     int        `json:"num_voters"`
	Finished      bool       `json:"finished"`
	Winner        *QuizEntry `json:"winner,omitempty"`
}

// User is one entry of a users_update membership snapshot.
type User struct {
	Host bool `json:"host"`
}

// SaveData is the persistable part of a room, returned by the server in a
// save_room reply and sent back in a load_room request.
type SaveData struct {
	Owner  string           `json:"owner,omitempty"`
	Scores map[string]Score `json:"scores"`
}

// CreateRoomReply is the handshake reply to create_room and load_room.
type CreateRoomReply struct {
	RoomCode string `json:"room_code"`
}

// JoinRoomReply is the handshake reply to join_room.
type JoinRoomReply struct {
	Success    bool     `json:"success"`
	Hosts      []string `json:"hosts"`
	FailReason string   `json:"fail_reason"`
}

// HostsUpdate carries a single incremental host set change. Exactly one of
// Added or Removed is set.
type HostsUpdate struct {
	Added   *string `json:"added,omitempty"`
	Removed *string `json:"removed,omitempty"`
}

// HostPromotion is the state snapshot handed to a newly promoted host.
type HostPromotion struct {
	URLs      map[string]string `json:"urls"`
	PollData  *PollData         `json:"poll_data"`
	QuizQueue []QuizEntry       `json:"quiz_queue"`
}

// ScoresUpdate replaces the scoreboard wholesale.
type ScoresUpdate struct {
	Scores map[string]Score `json:"scores"`
}

// UsersUpdate is the authoritative membership snapshot.
type UsersUpdate struct {
	Users  map[string]User  `json:"users"`
	Scores map[string]Score `json:"scores"`
}

// URLUpdate reports which page a participant is on.
type URLUpdate struct {
	Username string `json:"username"`
	URL      string `json:"url"`
}

// RemovedFromRoom reports a participant's forced removal.
type RemovedFromRoom struct {
	Username string `json:"username"`
}

// SaveRoomReply carries the snapshot to persist under a named save.
type SaveRoomReply struct {
	SaveData SaveData `json:"save_data"`
}

// PollUpdate carries the draft poll (poll_create, poll_data_update).
type PollUpdate struct {
	PollData *PollData `json:"poll_data"`
}

// PollStart announces a started poll.
type PollStart struct {
	VoteData *VoteData `json:"vote_data"`
}

// VoteUpdate carries a tally update for the active vote.
type VoteUpdate struct {
	VoteData *VoteData `json:"vote_data"`
}

// QueueUpdate replaces the quiz queue wholesale. Interval is optional.
type QueueUpdate struct {
	Queue    []QuizEntry `json:"queue"`
	Interval *int        `json:"interval,omitempty"`
}

// ChangeQueueInterval sets the queue auto-advance interval in seconds.
type ChangeQueueInterval struct {
	Interval int `json:"interval"`
}

// LiveScoresUpdate is the outbound form sent while a round is in progress.
type LiveScoresUpdate struct {
	CurrentScore int   `json:"current_score"`
	QuizTime     int64 `json:"quiz_time"`
	Finished     bool  `json:"finished"`
}

// StartConnection begins a create/join/load handshake. InitialMessage is the
// full wire message to send once the transport is open.
type StartConnection struct {
	InitialMessage json.RawMessage `json:"initialMessage"`
}

// InitialMessage is the decoded shape of a handshake initiation payload.
type InitialMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Code     string `json:"code,omitempty"`
}

// ConnectionStatusQuery asks whether the relay is in a room. URL is the
// querying tab's current page path.
type ConnectionStatusQuery struct {
	URL string `json:"url"`
}

// SaveName remembers the label under which the room should be saved. An empty
// name cancels a pending save.
type SaveName struct {
	SaveName string `json:"saveName"`
}

// ErrorMessage is pushed to the tab when an action cannot be carried out.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Marshal is a convenience for building outbound messages where failure is
// impossible by construction.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
